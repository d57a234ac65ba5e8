package firewall

import "time"

// Label is the final classification of a request.
type Label string

const (
	LabelBenign    Label = "benign"
	LabelMalicious Label = "malicious"
)

// Source records which stage produced the verdict. Exactly one stage ever
// decides: a signature match, a model prediction, or the fail-open default
// when no model was usable.
type Source string

const (
	SourceSignature    Source = "signature"
	SourceModel        Source = "ml_model"
	SourceModelDefault Source = "ml_unavailable_default"
)

// Verdict is the classification result for one request. Category and
// MatchedRule are set only for signature verdicts; Score only for model
// verdicts. Produced fresh per request and never mutated afterwards.
type Verdict struct {
	ID          string    `json:"id"`
	Label       Label     `json:"label"`
	Source      Source    `json:"source"`
	Category    string    `json:"category,omitempty"`
	MatchedRule string    `json:"matched_rule,omitempty"`
	Score       *float64  `json:"score,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Malicious reports whether the caller should block the request.
func (v Verdict) Malicious() bool {
	return v.Label == LabelMalicious
}
