// Package model wraps the probabilistic fallback classifier behind a stable
// predict contract. The underlying technology (an ONNX text-classification
// model driven by Hugot) is an implementation detail: callers see only a
// Prediction, and every failure mode - missing artifact, corrupt artifact,
// inference error - degrades to "unavailable" so the firewall can apply its
// documented fail-open default instead of surfacing an error.
package model

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/bastionsec/bastion/pkg/request"
	"github.com/bastionsec/bastion/pkg/telemetry"
)

// Prediction is the adapter's output. When Available is false no inference
// result exists and the caller must fall back to its default verdict.
type Prediction struct {
	Available bool
	Malicious bool
	Label     string
	Score     float64
}

// Config configures the classifier adapter.
type Config struct {
	// ModelPath is the directory holding the ONNX model artifact. Empty
	// means no model: every prediction reports unavailable.
	ModelPath string

	// OnnxLibraryPath points at libonnxruntime for the native backend.
	// Empty selects Hugot's pure Go backend (slower, no dependencies).
	OnnxLibraryPath string
}

// handle bundles one loaded model generation. Reload swaps the current
// handle atomically; predictions in flight keep the handle they acquired,
// and the session is destroyed only when the last user releases it.
type handle struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	path     string
	refs     atomic.Int64 // owner holds one ref; 0 means retired
}

func (h *handle) acquire() bool {
	for {
		n := h.refs.Load()
		if n == 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *handle) release() {
	if h.refs.Add(-1) == 0 {
		if err := h.session.Destroy(); err != nil {
			log.Printf("[ML] session teardown failed: %v", err)
		}
	}
}

// Classifier is the fallback classifier adapter. Safe for concurrent use.
type Classifier struct {
	cfg      Config
	counters *telemetry.Counters
	current  atomic.Pointer[handle]
}

// NewClassifier builds the adapter and attempts an initial load when a model
// path is configured. It never fails: a load error leaves the model absent
// and is reported through the logs and counters only.
func NewClassifier(cfg Config, counters *telemetry.Counters) *Classifier {
	c := &Classifier{cfg: cfg, counters: telemetry.OrDefault(counters)}
	if cfg.ModelPath == "" {
		log.Println("[ML] no model path configured, fallback classifier disabled")
		return c
	}
	if err := c.Reload(cfg.ModelPath); err != nil {
		log.Printf("[ML] model load failed, continuing without fallback classifier: %v", err)
	}
	return c
}

// Available reports whether a model is currently loaded.
func (c *Classifier) Available() bool {
	return c.current.Load() != nil
}

// ModelPath returns the path of the currently loaded model, or "".
func (c *Classifier) ModelPath() string {
	if h := c.current.Load(); h != nil {
		return h.path
	}
	return ""
}

// Reload loads the artifact at path and atomically swaps it in. On error the
// previously loaded model (if any) stays active.
func (c *Classifier) Reload(path string) error {
	h, err := c.load(path)
	if err != nil {
		return err
	}
	if old := c.current.Swap(h); old != nil {
		old.release()
	}
	log.Printf("[ML] model loaded from %s", path)
	return nil
}

// Close retires the current model. In-flight predictions finish against the
// handle they acquired.
func (c *Classifier) Close() {
	if old := c.current.Swap(nil); old != nil {
		old.release()
	}
}

func (c *Classifier) load(path string) (*handle, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model artifact not found: %w", err)
	}

	session, err := c.newSession()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: path,
		Name:      "request-threat-classifier",
	})
	if err != nil {
		if derr := session.Destroy(); derr != nil {
			log.Printf("[ML] session teardown failed: %v", derr)
		}
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	h := &handle{session: session, pipeline: pipeline, path: path}
	h.refs.Store(1)
	return h, nil
}

// newSession prefers the ONNX Runtime backend and falls back to Hugot's
// pure Go backend when the native library is unavailable.
func (c *Classifier) newSession() (*hugot.Session, error) {
	if c.cfg.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(c.cfg.OnnxLibraryPath))
		if err == nil {
			return session, nil
		}
		log.Printf("[ML] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}
	return hugot.NewGoSession()
}

// Predict classifies the request with the loaded model. It never returns an
// error: an absent model or a failed inference yields an unavailable
// Prediction, and the firewall must never become a source of backend outage
// because the model broke.
func (c *Classifier) Predict(ctx context.Context, req *request.Normalized) Prediction {
	h := c.current.Load()
	if h == nil || !h.acquire() {
		c.counters.ModelMissing.Add(1)
		return Prediction{}
	}
	defer h.release()

	texts := Features(req)
	if len(texts) == 0 {
		return Prediction{Available: true, Label: "benign"}
	}

	if err := ctx.Err(); err != nil {
		c.counters.ModelErrors.Add(1)
		return Prediction{}
	}

	result, err := h.pipeline.RunPipeline(texts)
	if err != nil {
		c.counters.ModelErrors.Add(1)
		log.Printf("[ML] inference failed, degrading to default: %v", err)
		return Prediction{}
	}

	// One output per input text; the most threatening one decides.
	pred := Prediction{Available: true, Label: "benign"}
	for i := range texts {
		if i >= len(result.ClassificationOutputs) || len(result.ClassificationOutputs[i]) == 0 {
			continue
		}
		out := result.ClassificationOutputs[i][0]
		score := float64(out.Score)
		if threatLabel(out.Label) {
			if !pred.Malicious || score > pred.Score {
				pred.Malicious = true
				pred.Label = out.Label
				pred.Score = score
			}
		} else if !pred.Malicious && score > pred.Score {
			pred.Label = out.Label
			pred.Score = score
		}
	}
	return pred
}

// threatLabel maps model output labels onto the malicious/benign split.
// Different artifacts use different conventions; anything not recognized as
// a benign label counts as a threat, since attack-category models emit the
// category name ("sqli", "xss", ...) as the label.
func threatLabel(label string) bool {
	switch strings.ToLower(label) {
	case "valid", "benign", "legitimate", "safe", "label_0":
		return false
	}
	return true
}

// Features derives the model's input representation from a normalized
// request: the cleaned non-empty texts of the request target, body, cookies
// and allow-listed headers, in a stable order.
func Features(req *request.Normalized) []string {
	var texts []string
	target := req.Path
	if req.Query != "" {
		target = target + "?" + req.Query
	}
	if target != "" {
		texts = append(texts, target)
	}
	if req.Body != "" {
		texts = append(texts, req.Body)
	}
	for _, v := range sortedValues(req.Cookies) {
		texts = append(texts, v)
	}
	for _, v := range sortedValues(req.Headers) {
		texts = append(texts, v)
	}
	return texts
}

func sortedValues(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic feature order so identical requests classify identically.
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := m[k]; v != "" {
			out = append(out, v)
		}
	}
	return out
}
