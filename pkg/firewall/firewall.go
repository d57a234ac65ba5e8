// Package firewall sequences the two-stage classification pipeline:
// normalize, run the signature engine, and only when no signature fires,
// consult the fallback classifier. The short-circuit is part of the
// contract, not an optimization - a signature verdict must never be diluted
// by a model opinion.
package firewall

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bastionsec/bastion/pkg/audit"
	"github.com/bastionsec/bastion/pkg/model"
	"github.com/bastionsec/bastion/pkg/request"
	"github.com/bastionsec/bastion/pkg/signature"
	"github.com/bastionsec/bastion/pkg/telemetry"
)

// Engine is the signature stage.
type Engine interface {
	Evaluate(req *request.Normalized) *signature.Match
}

// Predictor is the fallback classification stage.
type Predictor interface {
	Predict(ctx context.Context, req *request.Normalized) model.Prediction
}

// Recorder receives the decision log entry for each verdict. Record must
// never block.
type Recorder interface {
	Record(rec audit.Record)
}

// Firewall owns the pipeline wiring for the lifetime of the process. The
// engine and classifier handles it holds are themselves atomically
// reloadable, so Firewall carries no mutable state of its own and is safe
// for unlimited concurrent Classify calls.
type Firewall struct {
	engine     Engine
	classifier Predictor
	sink       Recorder
	counters   *telemetry.Counters
}

// New wires the pipeline. classifier and sink may be nil: a nil classifier
// behaves like an absent model, a nil sink disables decision logging.
func New(engine Engine, classifier Predictor, sink Recorder, counters *telemetry.Counters) *Firewall {
	return &Firewall{
		engine:     engine,
		classifier: classifier,
		sink:       sink,
		counters:   telemetry.OrDefault(counters),
	}
}

// Classify produces the verdict for one raw request. It always returns a
// well-formed Verdict: every internal failure downstream of normalization
// degrades to the documented fail-open default.
func (f *Firewall) Classify(ctx context.Context, raw *request.Raw) Verdict {
	req := request.Normalize(raw)

	v := Verdict{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}

	if m := f.engine.Evaluate(req); m != nil {
		// Signature wins outright; the classifier is never consulted.
		v.Label = LabelMalicious
		v.Source = SourceSignature
		v.Category = string(m.Category)
		v.MatchedRule = m.RuleID
		f.counters.SignatureMatches.Add(1)
	} else {
		v = f.fallback(ctx, req, v)
	}

	if f.sink != nil {
		f.sink.Record(recordFor(raw, v))
	}
	return v
}

func (f *Firewall) fallback(ctx context.Context, req *request.Normalized, v Verdict) Verdict {
	var p model.Prediction
	if f.classifier != nil {
		p = f.classifier.Predict(ctx, req)
	}
	if !p.Available {
		v.Label = LabelBenign
		v.Source = SourceModelDefault
		f.counters.DefaultVerdicts.Add(1)
		return v
	}
	if p.Malicious {
		v.Label = LabelMalicious
	} else {
		v.Label = LabelBenign
	}
	v.Source = SourceModel
	score := p.Score
	v.Score = &score
	f.counters.ModelVerdicts.Add(1)
	return v
}

func recordFor(raw *request.Raw, v Verdict) audit.Record {
	rec := audit.Record{
		ID:          v.ID,
		Timestamp:   v.Timestamp,
		Label:       string(v.Label),
		Source:      string(v.Source),
		Category:    v.Category,
		MatchedRule: v.MatchedRule,
		Score:       v.Score,
	}
	if raw != nil {
		rec.Origin = raw.Origin
		rec.Host = raw.Host
		rec.Method = raw.Method
		rec.Target = raw.Target
	}
	return rec
}
