package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bastionsec/bastion/pkg/telemetry"
)

// captureWriter collects every record it is handed.
type captureWriter struct {
	mu   sync.Mutex
	recs []Record
}

func (w *captureWriter) Write(_ context.Context, rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recs = append(w.recs, rec)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func (w *captureWriter) records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Record(nil), w.recs...)
}

// blockingWriter parks inside Write until released, so tests can hold the
// drain loop still while they fill the queue.
type blockingWriter struct {
	captureWriter
	started chan string
	release chan struct{}
}

func (w *blockingWriter) Write(ctx context.Context, rec Record) error {
	w.started <- rec.ID
	<-w.release
	return w.captureWriter.Write(ctx, rec)
}

type failingWriter struct{}

func (failingWriter) Write(context.Context, Record) error { return errors.New("backend down") }
func (failingWriter) Close() error                        { return nil }

func TestSinkDeliversInOrder(t *testing.T) {
	cw := &captureWriter{}
	counters := &telemetry.Counters{}
	sink := NewSink(64, counters, cw)

	for i := 0; i < 10; i++ {
		sink.Record(Record{ID: string(rune('a' + i)), Label: "benign", Source: "ml_unavailable_default"})
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	recs := cw.records()
	if len(recs) != 10 {
		t.Fatalf("delivered %d records, want 10", len(recs))
	}
	for i, rec := range recs {
		if want := string(rune('a' + i)); rec.ID != want {
			t.Errorf("record %d: id = %s, want %s", i, rec.ID, want)
		}
	}
	if got := counters.SinkRecorded.Load(); got != 10 {
		t.Errorf("recorded counter = %d, want 10", got)
	}
	if got := counters.SinkDropped.Load(); got != 0 {
		t.Errorf("dropped counter = %d, want 0", got)
	}
}

func TestSinkDropsOldestOnOverflow(t *testing.T) {
	bw := &blockingWriter{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
	counters := &telemetry.Counters{}
	sink := NewSink(2, counters, bw)

	// First record gets dequeued by the drain loop and parks in Write,
	// leaving the queue itself empty.
	sink.Record(Record{ID: "in-flight"})
	select {
	case <-bw.started:
	case <-time.After(2 * time.Second):
		t.Fatal("drain loop never picked up the first record")
	}

	sink.Record(Record{ID: "oldest"})
	sink.Record(Record{ID: "kept"})
	// Queue is now full; the next record must evict "oldest".
	sink.Record(Record{ID: "newest"})

	if got := counters.SinkDropped.Load(); got != 1 {
		t.Errorf("dropped counter = %d, want 1", got)
	}

	close(bw.release)
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Drain the remaining started signals so nothing leaks.
	for len(bw.started) > 0 {
		<-bw.started
	}

	got := map[string]bool{}
	for _, rec := range bw.records() {
		got[rec.ID] = true
	}
	if !got["in-flight"] || !got["kept"] || !got["newest"] {
		t.Errorf("surviving records = %v, want in-flight, kept, newest", got)
	}
	if got["oldest"] {
		t.Error("evicted record was still delivered")
	}
}

func TestSinkRecordAfterClose(t *testing.T) {
	counters := &telemetry.Counters{}
	sink := NewSink(8, counters, &captureWriter{})
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sink.Record(Record{ID: "late"})
	if got := counters.SinkDropped.Load(); got != 1 {
		t.Errorf("dropped counter = %d, want 1", got)
	}
}

func TestSinkCloseIdempotent(t *testing.T) {
	sink := NewSink(8, &telemetry.Counters{}, &captureWriter{})
	if err := sink.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSinkWriterErrorDoesNotStopFanout(t *testing.T) {
	cw := &captureWriter{}
	counters := &telemetry.Counters{}
	sink := NewSink(8, counters, failingWriter{}, cw)

	sink.Record(Record{ID: "r1"})
	sink.Record(Record{ID: "r2"})
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(cw.records()); got != 2 {
		t.Errorf("healthy writer received %d records, want 2", got)
	}
	if got := counters.SinkWriteErrs.Load(); got != 2 {
		t.Errorf("write error counter = %d, want 2", got)
	}
	if got := counters.SinkRecorded.Load(); got != 2 {
		t.Errorf("recorded counter = %d, want 2", got)
	}
}
