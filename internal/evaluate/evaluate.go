// Package evaluate defines the pluggable evaluator contract. Evaluators
// own the domain judgment of whether detected changes are worth spending
// budget on; the orchestrator core only requires well-formed job
// descriptors back.
package evaluate

import (
	"context"
	"time"

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/dispatch"
	"github.com/aristath/overseer/internal/journal"
)

// Context carries everything an evaluator may inspect on one tick. The
// deadline is advisory; evaluators are expected to self-limit.
type Context struct {
	Reason         string
	ChangedDomains []string
	RecentEvents   []*journal.ChangeEvent
	Snapshot       journal.Snapshot
	Journal        *journal.Journal
	Dispatcher     *dispatch.Dispatcher
	Budget         *budget.Guard
	Deadline       time.Time
}

// Result is what an evaluator hands back to the heartbeat.
type Result struct {
	Jobs         []*dispatch.Job
	Observations []string // Free-text diagnostics, logged not acted on
}

// Evaluator turns "what changed" into "what jobs to run".
type Evaluator interface {
	Evaluate(ctx context.Context, ec *Context) (*Result, error)
}

// Func adapts a function to the Evaluator interface.
type Func func(ctx context.Context, ec *Context) (*Result, error)

// Evaluate calls the wrapped function.
func (f Func) Evaluate(ctx context.Context, ec *Context) (*Result, error) {
	return f(ctx, ec)
}

// Multi runs several evaluators in order and merges their results. The
// first error stops the chain; jobs already collected are still
// returned so partial work is not lost.
type Multi struct {
	evaluators []Evaluator
}

// NewMulti creates a composite evaluator.
func NewMulti(evaluators ...Evaluator) *Multi {
	return &Multi{evaluators: evaluators}
}

// Add appends an evaluator to the chain.
func (m *Multi) Add(e Evaluator) {
	m.evaluators = append(m.evaluators, e)
}

// Evaluate runs the chain.
func (m *Multi) Evaluate(ctx context.Context, ec *Context) (*Result, error) {
	merged := &Result{}
	for _, e := range m.evaluators {
		res, err := e.Evaluate(ctx, ec)
		if res != nil {
			merged.Jobs = append(merged.Jobs, res.Jobs...)
			merged.Observations = append(merged.Observations, res.Observations...)
		}
		if err != nil {
			return merged, err
		}
	}
	return merged, nil
}
