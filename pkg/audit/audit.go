// Package audit records classification verdicts for later inspection by the
// dashboard. Recording is strictly fire-and-forget: the sink never blocks or
// fails the classification path, and under overload it drops the oldest
// queued records and counts the loss instead of applying backpressure.
package audit

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bastionsec/bastion/pkg/telemetry"
)

// Record is one decision log entry. The JSON shape is append-only: fields
// may be added over time but never renamed or removed, since the dashboard
// consumes these records.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Origin      string    `json:"origin,omitempty"`
	Host        string    `json:"host,omitempty"`
	Method      string    `json:"method,omitempty"`
	Target      string    `json:"target,omitempty"`
	Label       string    `json:"label"`
	Source      string    `json:"source"`
	Category    string    `json:"category,omitempty"`
	MatchedRule string    `json:"matched_rule,omitempty"`
	Score       *float64  `json:"score,omitempty"`
}

// Writer persists records to one destination. Implementations must be safe
// for use from the sink's single writer goroutine.
type Writer interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// writeTimeout bounds a single destination write so one slow backend cannot
// stall the drain loop indefinitely.
const writeTimeout = 5 * time.Second

// Sink fans records out to its writers through a bounded queue.
type Sink struct {
	ch        chan Record
	writers   []Writer
	counters  *telemetry.Counters
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewSink starts a sink with the given queue capacity. Writers that error
// lose that record only; the error is counted and logged, never propagated.
func NewSink(queueSize int, counters *telemetry.Counters, writers ...Writer) *Sink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &Sink{
		ch:       make(chan Record, queueSize),
		writers:  writers,
		counters: telemetry.OrDefault(counters),
		done:     make(chan struct{}),
	}
	go s.drain()
	return s
}

// Record enqueues a decision log entry. It never blocks: when the queue is
// full the oldest queued record is discarded to make room.
func (s *Sink) Record(rec Record) {
	if s.closed.Load() {
		s.counters.SinkDropped.Add(1)
		return
	}
	select {
	case s.ch <- rec:
		return
	default:
	}
	// Queue full: drop the oldest entry, then retry once.
	select {
	case <-s.ch:
		s.counters.SinkDropped.Add(1)
	default:
	}
	select {
	case s.ch <- rec:
	default:
		s.counters.SinkDropped.Add(1)
	}
}

// Close drains the queue, stops the sink and closes all writers. Records
// arriving after Close are dropped and counted.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		<-s.done
		for _, w := range s.writers {
			if err := w.Close(); err != nil {
				log.Printf("[AUDIT] writer close: %v", err)
			}
		}
	})
	return nil
}

func (s *Sink) drain() {
	defer close(s.done)
	for rec := range s.ch {
		for _, w := range s.writers {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := w.Write(ctx, rec); err != nil {
				s.counters.SinkWriteErrs.Add(1)
				log.Printf("[AUDIT] write failed (record %s dropped by destination): %v", rec.ID, err)
			}
			cancel()
		}
		s.counters.SinkRecorded.Add(1)
	}
}
