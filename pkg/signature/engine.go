package signature

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/bastionsec/bastion/pkg/request"
	"github.com/bastionsec/bastion/pkg/telemetry"
)

// DefaultRuleBudget bounds a single rule's evaluation time. RE2 guarantees
// linear-time matching, so the budget only trips on extreme input sizes; an
// overrunning rule is treated as non-matching and counted, never fatal.
const DefaultRuleBudget = 25 * time.Millisecond

// Engine evaluates normalized requests against the current catalog. The
// catalog handle is swapped atomically on reload; an evaluation in flight
// keeps the catalog it started with.
type Engine struct {
	catalog  atomic.Pointer[Catalog]
	budget   time.Duration
	counters *telemetry.Counters
}

// NewEngine creates an engine over the given catalog. A zero budget selects
// DefaultRuleBudget; pass counters as nil to use the process-wide set.
func NewEngine(cat *Catalog, budget time.Duration, counters *telemetry.Counters) *Engine {
	if budget <= 0 {
		budget = DefaultRuleBudget
	}
	e := &Engine{
		budget:   budget,
		counters: telemetry.OrDefault(counters),
	}
	e.catalog.Store(cat)
	return e
}

// Evaluate scans the request against the catalog in declaration order and
// returns the first matching rule, or nil when nothing fires. A rule whose
// evaluation overruns the time budget is treated as non-matching: the engine
// fails open at the rule level rather than stall or crash the request path.
func (e *Engine) Evaluate(req *request.Normalized) *Match {
	cat := e.catalog.Load()
	for _, r := range cat.rules {
		start := time.Now()
		matched := r.matches(req)
		if elapsed := time.Since(start); elapsed > e.budget {
			e.counters.EvalTimeouts.Add(1)
			log.Printf("[SIG] rule %s overran budget (%s > %s), treated as non-matching", r.ID, elapsed, e.budget)
			continue
		}
		if matched {
			return &Match{RuleID: r.ID, Category: r.Category}
		}
	}
	return nil
}

// Swap atomically replaces the catalog. Safe to call while evaluations are
// running on other goroutines.
func (e *Engine) Swap(cat *Catalog) {
	e.catalog.Store(cat)
	log.Printf("[SIG] catalog swapped (%d rules)", cat.Len())
}

// Catalog returns the currently active catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog.Load()
}
