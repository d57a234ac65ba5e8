// Package telemetry tracks degraded-state counters for the firewall.
// Degradation (missing model, evaluation timeouts, dropped log records) is
// observable only here - it never changes the shape of a verdict.
package telemetry

import "sync/atomic"

// Counters holds the firewall's operational counters. All fields are safe
// for concurrent use. The zero value is ready to use.
type Counters struct {
	// Classification outcomes
	SignatureMatches atomic.Int64 // verdicts decided by the signature engine
	ModelVerdicts    atomic.Int64 // verdicts decided by the fallback classifier
	DefaultVerdicts  atomic.Int64 // fail-open defaults (model absent or errored)

	// Degraded states
	EvalTimeouts  atomic.Int64 // rule evaluations that overran the time budget
	ModelMissing  atomic.Int64 // predictions attempted with no artifact loaded
	ModelErrors   atomic.Int64 // inference failures converted to the default
	SinkDropped   atomic.Int64 // decision log records dropped under overload
	SinkWriteErrs atomic.Int64 // decision log write failures (record lost)

	// Volume
	SinkRecorded atomic.Int64 // decision log records successfully written
}

// Default is the process-wide counter set. Components accept an explicit
// *Counters and fall back to this when given nil.
var Default = &Counters{}

// Snapshot returns a point-in-time copy of all counters, keyed by a stable
// name suitable for a /stats endpoint.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"signature_matches": c.SignatureMatches.Load(),
		"model_verdicts":    c.ModelVerdicts.Load(),
		"default_verdicts":  c.DefaultVerdicts.Load(),
		"eval_timeouts":     c.EvalTimeouts.Load(),
		"model_missing":     c.ModelMissing.Load(),
		"model_errors":      c.ModelErrors.Load(),
		"sink_dropped":      c.SinkDropped.Load(),
		"sink_write_errors": c.SinkWriteErrs.Load(),
		"sink_recorded":     c.SinkRecorded.Load(),
	}
}

// OrDefault returns c, or the process-wide Default when c is nil.
func OrDefault(c *Counters) *Counters {
	if c == nil {
		return Default
	}
	return c
}
