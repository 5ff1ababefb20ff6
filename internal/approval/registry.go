package approval

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps approval-type tags to their handlers.
//
// One Registry is built at process start, filled with every handler, and then
// shared by the pipeline, the bulk coordinator and the Center. It is an
// explicit object rather than a package global so tests can build their own.
// Registration normally happens only at startup; the lock makes late
// registration safe anyway.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h, replacing any handler already registered under h.Type().
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get returns the handler for the type or ErrTypeNotRegistered.
func (r *Registry) Get(approvalType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[approvalType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotRegistered, approvalType)
	}
	return h, nil
}

// All returns every handler ordered by type tag.
func (r *Registry) All() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}

// Exists reports whether a handler is registered for the type.
func (r *Registry) Exists(approvalType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[approvalType]
	return ok
}

// ListTypes returns the registered type tags in sorted order.
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
