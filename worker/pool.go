package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool runs functions on at most Size goroutines.
type Pool struct {
	size int

	mu sync.Mutex
	g  *errgroup.Group
}

// NewPool creates a pool of size workers. Sizes below one are raised to one.
func NewPool(size int) *Pool {
	p := &Pool{size: max(size, 1)}
	p.g = p.newGroup()
	return p
}

func (p *Pool) newGroup() *errgroup.Group {
	g := new(errgroup.Group)
	g.SetLimit(p.size)
	return g
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Go runs fn on a worker. It blocks until one is free.
func (p *Pool) Go(fn func()) {
	p.mu.Lock()
	g := p.g
	p.mu.Unlock()

	g.Go(func() error {
		fn()
		return nil
	})
}

// Wait blocks until every submitted function returned or ctx is done. On
// timeout the stragglers are abandoned: the pool starts a fresh set of
// workers and ctx.Err() is returned.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	g := p.g
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = g.Wait() //nolint:errcheck // functions never fail
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		p.g = p.newGroup()
		p.mu.Unlock()
		return ctx.Err()
	}
}
