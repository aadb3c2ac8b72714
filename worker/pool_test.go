package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/shepherd/worker"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := worker.NewPool(2)
	if p.Size() != 2 {
		t.Fatalf("Size = %d, want 2", p.Size())
	}

	var running, peak atomic.Int32
	for range 6 {
		p.Go(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		})
	}

	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestPool_WaitAbandonsStragglers(t *testing.T) {
	p := worker.NewPool(1)
	release := make(chan struct{})
	defer close(release)
	p.Go(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("expected Wait to time out")
	}

	// The pool accepts new work after abandoning the straggler.
	ran := make(chan struct{})
	p.Go(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("pool did not run new work after abandoning stragglers")
	}
}

func TestPool_MinimumSize(t *testing.T) {
	if got := worker.NewPool(0).Size(); got != 1 {
		t.Errorf("Size = %d, want 1", got)
	}
}
