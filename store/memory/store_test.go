package memory

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/store"
	"github.com/xraph/shepherd/store/storetest"
)

func TestConformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestReturnedJobsAreCopies(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	d, err := job.NewDescriptor(job.TargetTypeHandler, "noop")
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	j := job.NewEnqueued(d)
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := got.StartProcessing(id.NewServerID(), time.Now()); err != nil {
		t.Fatalf("start processing: %v", err)
	}

	again, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.StateName() != job.StateEnqueued {
		t.Fatalf("expected stored job to stay ENQUEUED, got %s", again.StateName())
	}
}

func TestSetServerRunning(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	hb := &cluster.ServerHeartbeat{ID: id.NewServerID(), Running: true, LastHeartbeat: time.Now()}
	if err := s.AnnounceServer(ctx, hb); err != nil {
		t.Fatalf("announce: %v", err)
	}

	s.SetServerRunning(hb.ID, false)
	running, err := s.SignalServerAlive(ctx, hb)
	if err != nil {
		t.Fatalf("signal alive: %v", err)
	}
	if running {
		t.Fatal("expected stored running flag to be false")
	}
}
