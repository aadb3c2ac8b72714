package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoop_RunsImmediatelyAndRepeats(t *testing.T) {
	var runs atomic.Int32
	l := Start(context.Background(), "test", 5*time.Millisecond, func(context.Context) {
		runs.Add(1)
	}, nil)
	defer l.Stop()

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoop_NeverOverlaps(t *testing.T) {
	var active, overlaps, runs atomic.Int32
	l := Start(context.Background(), "test", time.Millisecond, func(context.Context) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(3 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	}, nil)

	for range 10 {
		l.Trigger()
		time.Sleep(time.Millisecond)
	}
	for runs.Load() < 5 {
		time.Sleep(time.Millisecond)
	}
	l.Stop()

	if overlaps.Load() != 0 {
		t.Errorf("runs overlapped %d times", overlaps.Load())
	}
}

func TestLoop_TriggerRunsEarly(t *testing.T) {
	ran := make(chan struct{}, 10)
	l := Start(context.Background(), "test", time.Hour, func(context.Context) {
		ran <- struct{}{}
	}, nil)
	defer l.Stop()

	<-ran // immediate first run
	l.Trigger()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Trigger did not cause a run")
	}
}

func TestLoop_StopCancelsContext(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	l := Start(context.Background(), "test", time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
	}, nil)

	<-started
	l.Stop()
	if !sawCancel.Load() {
		t.Error("expected the run to observe cancellation")
	}
}
