package dispatch

import (
	"context"
	"sort"
	"sync"
)

// HandlerFunc executes a job. A non-nil error marks the job failed. A
// preemptible handler should poll rc.ShouldYield (or call rc.Checkpoint)
// and return a Result with Yielded set when asked to hand control back.
type HandlerFunc func(ctx context.Context, rc *RunContext) (*Result, error)

// Registry maps job kinds to named handler functions. Job descriptors
// carry only the kind string, never the callable.
type Registry struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler for a job kind, replacing any existing one.
func (r *Registry) Register(kind string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Get returns the handler for a kind, or nil if none is registered.
func (r *Registry) Get(kind string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

// Has reports whether a handler is registered for the kind.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
