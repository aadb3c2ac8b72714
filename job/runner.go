package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/shepherd"
)

// Runner invokes the target a descriptor names.
type Runner interface {
	// CanRun reports whether this runner is able to invoke d.
	CanRun(d Descriptor) bool

	// Run invokes d. Returning an error fails the job.
	Run(ctx context.Context, d Descriptor) error
}

// OptionsProvider is implemented by runners that carry per-target options.
type OptionsProvider interface {
	Options(d Descriptor) (Options, bool)
}

// Runners resolves descriptors to runners by capability match. Runners are
// consulted in registration order and the first match wins. Resolution of
// cacheable descriptors is memoized per target.
type Runners struct {
	mu      sync.RWMutex
	runners []Runner
	cache   map[string]Runner
}

// NewRunners returns a registry holding rs in order.
func NewRunners(rs ...Runner) *Runners {
	return &Runners{
		runners: append([]Runner(nil), rs...),
		cache:   make(map[string]Runner),
	}
}

// Register appends a runner. It clears the resolution cache.
func (r *Runners) Register(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners = append(r.runners, runner)
	clear(r.cache)
}

// Len returns the number of registered runners.
func (r *Runners) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

// Resolve returns the first runner able to run d, or an error wrapping
// shepherd.ErrNoRunner.
func (r *Runners) Resolve(d Descriptor) (Runner, error) {
	key := d.Key()
	if d.Cacheable {
		r.mu.RLock()
		cached, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}
	}

	r.mu.RLock()
	var found Runner
	for _, runner := range r.runners {
		if runner.CanRun(d) {
			found = runner
			break
		}
	}
	r.mu.RUnlock()

	if found == nil {
		return nil, fmt.Errorf("%w: %s", shepherd.ErrNoRunner, key)
	}
	if d.Cacheable {
		r.mu.Lock()
		r.cache[key] = found
		r.mu.Unlock()
	}
	return found, nil
}

// FuncRunner runs every descriptor of one target type with a function.
type FuncRunner struct {
	TargetType string
	Fn         func(ctx context.Context, d Descriptor) error
}

// NewFuncRunner returns a runner for targetType.
func NewFuncRunner(targetType string, fn func(ctx context.Context, d Descriptor) error) *FuncRunner {
	return &FuncRunner{TargetType: targetType, Fn: fn}
}

// CanRun matches on the target type.
func (f *FuncRunner) CanRun(d Descriptor) bool { return d.TargetType == f.TargetType }

// Run calls Fn.
func (f *FuncRunner) Run(ctx context.Context, d Descriptor) error { return f.Fn(ctx, d) }

// Options returns the options of the runner resolved for d, when that
// runner carries any.
func (r *Runners) Options(d Descriptor) (Options, bool) {
	runner, err := r.Resolve(d)
	if err != nil {
		return Options{}, false
	}
	if p, ok := runner.(OptionsProvider); ok {
		return p.Options(d)
	}
	return Options{}, false
}
