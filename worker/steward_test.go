package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/worker"
)

func newJob(t *testing.T, member string) *job.Job {
	t.Helper()
	d, err := job.NewDescriptor("script", member)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	return job.NewEnqueued(d)
}

func TestSteward_StartStop(t *testing.T) {
	s := worker.NewSteward(nil)
	var idle atomic.Int32
	done := make(chan struct{}, 1)
	s.OnIdle(func() {
		idle.Add(1)
		done <- struct{}{}
	})

	j := newJob(t, "a")
	_, cancel := context.WithCancelCause(context.Background())
	s.StartProcessing(j, cancel)

	if got := s.Occupied(); got != 1 {
		t.Fatalf("Occupied = %d, want 1", got)
	}
	if got := len(s.InFlight()); got != 1 {
		t.Fatalf("InFlight = %d, want 1", got)
	}

	s.StopProcessing(j)
	if got := s.Occupied(); got != 0 {
		t.Errorf("Occupied = %d, want 0", got)
	}
	if got := len(s.InFlight()); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle callback not called")
	}
	if idle.Load() != 1 {
		t.Errorf("idle called %d times, want 1", idle.Load())
	}
}

func TestSteward_Interrupt(t *testing.T) {
	s := worker.NewSteward(nil)
	j := newJob(t, "a")
	ctx, cancel := context.WithCancelCause(context.Background())
	s.StartProcessing(j, cancel)

	if !s.Interrupt(j.ID) {
		t.Fatal("expected Interrupt to find the run")
	}
	if !errors.Is(context.Cause(ctx), worker.ErrInterrupted) {
		t.Errorf("cause = %v, want ErrInterrupted", context.Cause(ctx))
	}
	if s.Interrupt(newJob(t, "b").ID) {
		t.Error("expected Interrupt of an unknown job to report false")
	}
}

func TestSteward_ReplacesOlderRun(t *testing.T) {
	s := worker.NewSteward(nil)
	older := newJob(t, "a")
	newer := older.Clone()

	olderCtx, olderCancel := context.WithCancelCause(context.Background())
	newerCtx, newerCancel := context.WithCancelCause(context.Background())
	s.StartProcessing(older, olderCancel)
	s.StartProcessing(newer, newerCancel)

	if !errors.Is(context.Cause(olderCtx), worker.ErrInterrupted) {
		t.Error("expected the older run to be interrupted")
	}
	if newerCtx.Err() != nil {
		t.Error("expected the newer run to keep going")
	}

	// The older run finishing must not unregister the newer one.
	s.StopProcessing(older)
	inFlight := s.InFlight()
	if len(inFlight) != 1 || inFlight[0] != newer {
		t.Fatalf("expected the newer run in flight, got %v", inFlight)
	}
	if got := s.Occupied(); got != 1 {
		t.Errorf("Occupied = %d, want 1", got)
	}
}

func TestSteward_InterruptAll(t *testing.T) {
	s := worker.NewSteward(nil)
	var ctxs []context.Context
	for _, m := range []string{"a", "b", "c"} {
		ctx, cancel := context.WithCancelCause(context.Background())
		s.StartProcessing(newJob(t, m), cancel)
		ctxs = append(ctxs, ctx)
	}

	if n := s.InterruptAll(); n != 3 {
		t.Errorf("InterruptAll = %d, want 3", n)
	}
	for i, ctx := range ctxs {
		if !errors.Is(context.Cause(ctx), worker.ErrInterrupted) {
			t.Errorf("run %d not interrupted", i)
		}
	}
}
