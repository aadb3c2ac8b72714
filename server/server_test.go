package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/client"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/server"
	"github.com/xraph/shepherd/store/memory"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type emailPayload struct {
	To string `json:"to"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() shepherd.Config {
	cfg := shepherd.DefaultConfig()
	cfg.ServerName = "test"
	cfg.PollInterval = 50 * time.Millisecond
	cfg.WorkerCount = 2
	cfg.InterruptJobsAwaitDuration = time.Second
	return cfg
}

func noMetrics(context.Context) cluster.ResourceMetrics { return cluster.ResourceMetrics{} }

func newServer(t *testing.T, s *memory.Store, opts ...server.Option) *server.Server {
	t.Helper()
	base := []server.Option{
		server.WithConfig(testConfig()),
		server.WithLogger(testLogger()),
		server.WithResourceMetrics(noMetrics),
	}
	srv, err := server.New(s, append(base, opts...)...)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countJobs(s *memory.Store, state job.StateName) int64 {
	n, _ := s.CountJobs(context.Background(), state)
	return n
}

type lifecycleRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *lifecycleRecorder) Name() string { return "lifecycle-recorder" }

func (r *lifecycleRecorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *lifecycleRecorder) has(e string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.events, e)
}

func (r *lifecycleRecorder) OnServerStarted(context.Context, id.ServerID) error {
	r.add("started")
	return nil
}

func (r *lifecycleRecorder) OnServerStopped(context.Context, id.ServerID) error {
	r.add("stopped")
	return nil
}

func (r *lifecycleRecorder) OnServerFatal(context.Context, id.ServerID, error) error {
	r.add("fatal")
	return nil
}

func (r *lifecycleRecorder) OnLeadershipChanged(_ context.Context, _ id.ServerID, isLeader bool) error {
	if isLeader {
		r.add("leader")
	}
	return nil
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNew_RequiresStore(t *testing.T) {
	if _, err := server.New(nil); !errors.Is(err, shepherd.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ServerTimeoutMultiplicand = 2
	_, err := server.New(memory.New(), server.WithConfig(cfg), server.WithLogger(testLogger()))
	if !errors.Is(err, shepherd.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Processing
// ──────────────────────────────────────────────────

func TestServer_ProcessesEnqueuedJobs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var processed atomic.Int32
	def := job.NewDefinition("send-email", func(_ context.Context, p emailPayload) error {
		if p.To == "" {
			return errors.New("missing recipient")
		}
		processed.Add(1)
		return nil
	})
	srv := newServer(t, s)
	server.Register(srv, def)

	c := client.New(s, client.WithLogger(testLogger()))
	for range 5 {
		if _, err := client.EnqueueDefinition(ctx, c, def, emailPayload{To: "alice@example.com"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "five succeeded jobs", func() bool { return countJobs(s, job.StateSucceeded) == 5 })

	if got := processed.Load(); got != 5 {
		t.Errorf("processed = %d, want 5", got)
	}
}

func TestServer_RunsScheduledJobWhenDue(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	done := make(chan struct{}, 1)
	def := job.NewDefinition("reminder", func(context.Context, emailPayload) error {
		done <- struct{}{}
		return nil
	})
	srv := newServer(t, s)
	server.Register(srv, def)

	c := client.New(s, client.WithLogger(testLogger()))
	if _, err := client.ScheduleDefinition(ctx, c, def, emailPayload{To: "bob@example.com"}, time.Now().Add(150*time.Millisecond)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job never ran")
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestServer_LifecycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	srv := newServer(t, s)

	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := srv.Resume(); !errors.Is(err, shepherd.ErrServerStopped) {
		t.Fatalf("Resume before Start: expected ErrServerStopped, got %v", err)
	}

	for range 2 {
		if err := srv.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	waitFor(t, "announce", func() bool {
		servers, _ := s.ListServers(ctx)
		return len(servers) == 1
	})

	for range 2 {
		if err := srv.Pause(); err != nil {
			t.Fatalf("Pause: %v", err)
		}
	}
	if got := srv.Status().State; got != "paused" {
		t.Fatalf("state = %q, want paused", got)
	}

	// Start on a paused server resumes it.
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start while paused: %v", err)
	}
	if got := srv.Status().State; got != "running" {
		t.Fatalf("state = %q, want running", got)
	}

	for range 2 {
		if err := srv.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	servers, _ := s.ListServers(ctx)
	if len(servers) != 0 {
		t.Errorf("heartbeats after Stop = %d, want 0", len(servers))
	}

	// A stopped server can be started again.
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, "second announce", func() bool {
		servers, _ := s.ListServers(ctx)
		return len(servers) == 1
	})
}

func TestServer_PausedServerTakesNoWork(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	def := job.NewDefinition("noop", func(context.Context, emailPayload) error { return nil })
	srv := newServer(t, s)
	server.Register(srv, def)

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	c := client.New(s, client.WithLogger(testLogger()))
	if _, err := client.EnqueueDefinition(ctx, c, def, emailPayload{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := countJobs(s, job.StateEnqueued); got != 1 {
		t.Fatalf("enqueued jobs while paused = %d, want 1", got)
	}

	if err := srv.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "job to succeed after resume", func() bool { return countJobs(s, job.StateSucceeded) == 1 })
}

func TestServer_PausesWhenFlaggedInStore(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	srv := newServer(t, s)

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "announce", func() bool { return !srv.Status().FirstHeartbeat.IsZero() })

	s.SetServerRunning(srv.ID(), false)
	waitFor(t, "remote pause", func() bool { return srv.Status().State == "paused" })
}

func TestServer_StopInterruptsRunningJobs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	started := make(chan struct{}, 1)
	runner := job.NewFuncRunner("script", func(ctx context.Context, _ job.Descriptor) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	srv := newServer(t, s, server.WithRunner(runner))

	d, err := job.NewDescriptor("script", "long-report")
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	c := client.New(s, client.WithLogger(testLogger()))
	j, err := c.Enqueue(ctx, d)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	begin := time.Now()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(begin); elapsed >= time.Second {
		t.Errorf("Stop took %s, the job should have been interrupted", elapsed)
	}

	// An interrupted run records nothing; a peer recovers the job later.
	stored, _ := s.GetJob(ctx, j.ID)
	if stored.StateName() != job.StateProcessing {
		t.Errorf("state = %s, want PROCESSING", stored.StateName())
	}
}

func TestServer_RestartRecoversInterruptedJobs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var runs atomic.Int32
	started := make(chan struct{}, 1)
	runner := job.NewFuncRunner("script", func(ctx context.Context, _ job.Descriptor) error {
		if runs.Add(1) == 1 {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	srv := newServer(t, s, server.WithRunner(runner))

	d, _ := job.NewDescriptor("script", "nightly-export")
	j, err := client.New(s, client.WithLogger(testLogger())).Enqueue(ctx, d)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}

	waitFor(t, "interrupted job to run again", func() bool {
		stored, err := s.GetJob(ctx, j.ID)
		return err == nil && stored.StateName() == job.StateSucceeded
	})
	if got := runs.Load(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}
}

// ──────────────────────────────────────────────────
// Status and hooks
// ──────────────────────────────────────────────────

func TestServer_StatusAndLeadership(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &lifecycleRecorder{}
	srv := newServer(t, s, server.WithExtension(rec))

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "leadership", func() bool { return rec.has("leader") })

	st := srv.Status()
	if !st.Leader {
		t.Error("single server should lead")
	}
	if !st.Running || st.State != "running" {
		t.Errorf("status = %+v, want running", st)
	}
	if st.WorkerPoolSize != 2 {
		t.Errorf("WorkerPoolSize = %d, want 2", st.WorkerPoolSize)
	}
	if st.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %s", st.PollInterval)
	}
	if !rec.has("started") {
		t.Error("OnServerStarted not called")
	}

	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !rec.has("stopped") {
		t.Error("OnServerStopped not called")
	}
}

func TestServer_MissingRunnerIsFatal(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &lifecycleRecorder{}
	srv := newServer(t, s, server.WithExtension(rec))

	d, _ := job.NewDescriptor("script", "unknown")
	c := client.New(s, client.WithLogger(testLogger()))
	j, err := c.Enqueue(ctx, d)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "fatal stop", func() bool { return rec.has("stopped") })

	if !rec.has("fatal") {
		t.Error("OnServerFatal not called")
	}
	stored, _ := s.GetJob(ctx, j.ID)
	if stored.StateName() != job.StateFailed {
		t.Errorf("job state = %s, want FAILED", stored.StateName())
	}

	md, err := s.GetMetadata(ctx, server.FatalMetadataName, srv.ID().String())
	if err != nil {
		t.Fatalf("fatal diagnostics: %v", err)
	}
	for _, want := range []string{srv.ID().String(), "error:", "no runner"} {
		if !strings.Contains(md.Value, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, md.Value)
		}
	}

	servers, _ := s.ListServers(ctx)
	if len(servers) != 0 {
		t.Errorf("heartbeats after fatal stop = %d, want 0", len(servers))
	}
}
