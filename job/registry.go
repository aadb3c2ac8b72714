package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts a raw JSON payload.
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

type handlerEntry struct {
	fn   HandlerFunc
	opts Options
}

// Registry maps definition names to type-erased handler functions and runs
// descriptors whose target type is TargetTypeHandler. It is a Runner and is
// safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]handlerEntry
}

var _ Runner = (*Registry)(nil)

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]handlerEntry),
	}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handlerEntry{fn: handler, opts: def.Opts}
}

// Get returns the handler for the given definition name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h.fn, ok
}

// Names returns all registered definition names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// CanRun reports whether a definition is registered for the descriptor.
func (r *Registry) CanRun(d Descriptor) bool {
	if d.TargetType != TargetTypeHandler {
		return false
	}
	_, ok := r.Get(d.TargetMember)
	return ok
}

// Run decodes the first parameter as the payload and calls the handler.
func (r *Registry) Run(ctx context.Context, d Descriptor) error {
	h, ok := r.Get(d.TargetMember)
	if !ok {
		return fmt.Errorf("no definition registered for %q", d.TargetMember)
	}
	var payload []byte
	if len(d.Parameters) > 0 {
		payload = d.Parameters[0]
	}
	return h(ctx, payload)
}

// Options returns the options of the definition that runs d.
func (r *Registry) Options(d Descriptor) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[d.TargetMember]
	return h.opts, ok
}
