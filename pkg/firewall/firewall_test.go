package firewall

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bastionsec/bastion/pkg/audit"
	"github.com/bastionsec/bastion/pkg/model"
	"github.com/bastionsec/bastion/pkg/request"
	"github.com/bastionsec/bastion/pkg/signature"
	"github.com/bastionsec/bastion/pkg/telemetry"
)

// spyClassifier counts invocations and returns a scripted prediction.
type spyClassifier struct {
	mu    sync.Mutex
	calls int
	pred  model.Prediction
}

func (s *spyClassifier) Predict(_ context.Context, _ *request.Normalized) model.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.pred
}

func (s *spyClassifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memorySink captures records synchronously for assertions.
type memorySink struct {
	mu   sync.Mutex
	recs []audit.Record
}

func (m *memorySink) Record(rec audit.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
}

func (m *memorySink) records() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.recs...)
}

func newTestFirewall(t *testing.T, classifier Predictor, sink Recorder) *Firewall {
	t.Helper()
	engine := signature.NewEngine(signature.DefaultCatalog(), time.Second, &telemetry.Counters{})
	return New(engine, classifier, sink, &telemetry.Counters{})
}

func TestSignatureShortCircuit(t *testing.T) {
	spy := &spyClassifier{pred: model.Prediction{Available: true, Malicious: false, Score: 0.99}}
	fw := newTestFirewall(t, spy, nil)

	v := fw.Classify(context.Background(), &request.Raw{
		Method: "GET",
		Target: "/login?user=admin' OR '1'='1",
	})

	if v.Label != LabelMalicious {
		t.Errorf("label = %s, want malicious", v.Label)
	}
	if v.Source != SourceSignature {
		t.Errorf("source = %s, want signature", v.Source)
	}
	if v.Category != "sqli" {
		t.Errorf("category = %s, want sqli", v.Category)
	}
	if v.MatchedRule == "" {
		t.Error("matched_rule must be set for signature verdicts")
	}
	if v.Score != nil {
		t.Error("score must not be set for signature verdicts")
	}
	if spy.callCount() != 0 {
		t.Errorf("classifier invoked %d times despite signature match", spy.callCount())
	}
}

func TestModelAbsentDefaultsToBenign(t *testing.T) {
	spy := &spyClassifier{pred: model.Prediction{}} // Available=false
	fw := newTestFirewall(t, spy, nil)

	v := fw.Classify(context.Background(), &request.Raw{Method: "GET", Target: "/products?id=42"})

	if v.Label != LabelBenign {
		t.Errorf("label = %s, want benign", v.Label)
	}
	if v.Source != SourceModelDefault {
		t.Errorf("source = %s, want %s", v.Source, SourceModelDefault)
	}
	if v.Category != "" || v.MatchedRule != "" || v.Score != nil {
		t.Errorf("default verdict must carry no signature or model detail: %+v", v)
	}
	if spy.callCount() != 1 {
		t.Errorf("classifier invoked %d times, want 1", spy.callCount())
	}
}

func TestNilClassifierBehavesLikeAbsentModel(t *testing.T) {
	fw := newTestFirewall(t, nil, nil)
	v := fw.Classify(context.Background(), &request.Raw{Method: "GET", Target: "/products?id=42"})
	if v.Label != LabelBenign || v.Source != SourceModelDefault {
		t.Errorf("got %s/%s, want benign/%s", v.Label, v.Source, SourceModelDefault)
	}
}

func TestModelVerdictCarriesScore(t *testing.T) {
	testCases := []struct {
		name      string
		pred      model.Prediction
		wantLabel Label
	}{
		{"benign with score", model.Prediction{Available: true, Malicious: false, Score: 0.92}, LabelBenign},
		{"malicious with score", model.Prediction{Available: true, Malicious: true, Label: "sqli", Score: 0.87}, LabelMalicious},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fw := newTestFirewall(t, &spyClassifier{pred: tc.pred}, nil)
			v := fw.Classify(context.Background(), &request.Raw{Method: "GET", Target: "/products?id=42"})

			if v.Label != tc.wantLabel {
				t.Errorf("label = %s, want %s", v.Label, tc.wantLabel)
			}
			if v.Source != SourceModel {
				t.Errorf("source = %s, want %s", v.Source, SourceModel)
			}
			if v.Score == nil || *v.Score != tc.pred.Score {
				t.Errorf("score = %v, want %v", v.Score, tc.pred.Score)
			}
			if v.Category != "" || v.MatchedRule != "" {
				t.Error("category and matched_rule are signature-only fields")
			}
		})
	}
}

func TestClassifyIdempotent(t *testing.T) {
	fw := newTestFirewall(t, &spyClassifier{pred: model.Prediction{Available: true, Score: 0.6}}, nil)
	raw := &request.Raw{Method: "GET", Target: "/login?user=admin' OR '1'='1"}

	first := fw.Classify(context.Background(), raw)
	second := fw.Classify(context.Background(), raw)

	// IDs and timestamps are per-decision; everything else must agree.
	if first.Label != second.Label || first.Source != second.Source ||
		first.Category != second.Category || first.MatchedRule != second.MatchedRule {
		t.Errorf("verdicts differ: %+v vs %+v", first, second)
	}
	if first.ID == second.ID {
		t.Error("each decision must get its own id")
	}
}

func TestVerdictHandedToSink(t *testing.T) {
	sink := &memorySink{}
	fw := newTestFirewall(t, nil, sink)

	raw := &request.Raw{Method: "POST", Target: "/comment", Body: "<script>alert(1)</script>", Origin: "10.0.0.5", Host: "shop.example"}
	v := fw.Classify(context.Background(), raw)

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ID != v.ID {
		t.Errorf("record id %s != verdict id %s", rec.ID, v.ID)
	}
	if rec.Label != string(v.Label) || rec.Source != string(v.Source) || rec.Category != "xss" {
		t.Errorf("record does not mirror verdict: %+v", rec)
	}
	if rec.Origin != "10.0.0.5" || rec.Host != "shop.example" || rec.Method != "POST" || rec.Target != "/comment" {
		t.Errorf("record summary incomplete: %+v", rec)
	}
}

func TestConcurrentClassification(t *testing.T) {
	fw := newTestFirewall(t, &spyClassifier{pred: model.Prediction{Available: true, Score: 0.1}}, &memorySink{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var raw request.Raw
			if i%2 == 0 {
				raw = request.Raw{Method: "GET", Target: "/files/../../etc/passwd"}
			} else {
				raw = request.Raw{Method: "GET", Target: "/products?id=42"}
			}
			v := fw.Classify(context.Background(), &raw)
			if i%2 == 0 && v.Source != SourceSignature {
				t.Errorf("traversal request: source = %s", v.Source)
			}
			if i%2 == 1 && v.Source != SourceModel {
				t.Errorf("benign request: source = %s", v.Source)
			}
		}(i)
	}
	wg.Wait()
}
