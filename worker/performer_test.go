package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/backoff"
	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/middleware"
	"github.com/xraph/shepherd/store/memory"
	"github.com/xraph/shepherd/worker"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.Store
	steward   *worker.Steward
	pool      *worker.Pool
	runners   *job.Runners
	registry  *ext.Registry
	performer *worker.Performer
	serverID  id.ServerID

	mu    sync.Mutex
	fatal []error
}

func newHarness(t *testing.T, opts ...worker.PerformerOption) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		steward:  worker.NewSteward(nil),
		pool:     worker.NewPool(4),
		runners:  job.NewRunners(),
		registry: ext.NewRegistry(slog.Default()),
		serverID: id.NewServerID(),
	}
	base := []worker.PerformerOption{
		worker.WithClock(func() time.Time { return now }),
		worker.WithRetryPolicy(&backoff.RetryPolicy{
			MaxRetries: 2,
			Strategy:   backoff.NewConstant(time.Minute),
			Now:        func() time.Time { return now },
		}),
		worker.WithFatalHandler(func(err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.fatal = append(h.fatal, err)
		}),
		worker.WithMiddleware(middleware.Recover(slog.Default())),
	}
	h.performer = worker.NewPerformer(
		h.serverID,
		worker.NewTransitions(h.store, h.registry, nil),
		h.runners,
		h.steward,
		h.pool,
		append(base, opts...)...,
	)
	return h
}

// enqueue stores an Enqueued job for the script runner.
func (h *harness) enqueue(t *testing.T, member string) *job.Job {
	t.Helper()
	j := newJob(t, member)
	if err := h.store.SaveJob(context.Background(), j); err != nil {
		t.Fatalf("save: %v", err)
	}
	return j
}

// claim claims a stored job for the harness server.
func (h *harness) claim(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	claimed, err := h.performer.Claim(context.Background(), []*job.Job{j})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected to win the claim, got %d jobs", len(claimed))
	}
	return claimed[0]
}

func (h *harness) stored(t *testing.T, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return j
}

func (h *harness) script(fn func(ctx context.Context, d job.Descriptor) error) {
	h.runners.Register(job.NewFuncRunner("script", fn))
}

func states(j *job.Job) []job.StateName {
	var out []job.StateName
	for _, s := range j.History() {
		out = append(out, s.Name)
	}
	return out
}

func assertStates(t *testing.T, j *job.Job, want ...job.StateName) {
	t.Helper()
	got := states(j)
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history = %v, want %v", got, want)
		}
	}
}

func TestPerformer_ClaimAtMostOnce(t *testing.T) {
	a := newHarness(t)
	j := a.enqueue(t, "report")

	b := newHarness(t)
	b.store = a.store
	b.performer = worker.NewPerformer(b.serverID, worker.NewTransitions(a.store, nil, nil), b.runners, b.steward, b.pool)

	copyA := a.stored(t, j.ID)
	copyB := a.stored(t, j.ID)

	wonA, err := a.performer.Claim(context.Background(), []*job.Job{copyA})
	if err != nil {
		t.Fatalf("claim A: %v", err)
	}
	wonB, err := b.performer.Claim(context.Background(), []*job.Job{copyB})
	if err != nil {
		t.Fatalf("claim B: %v", err)
	}

	if len(wonA)+len(wonB) != 1 {
		t.Fatalf("expected exactly one claim to win, got A=%d B=%d", len(wonA), len(wonB))
	}
	stored := a.stored(t, j.ID)
	if stored.State().ServerID != a.serverID {
		t.Errorf("owner = %s, want %s", stored.State().ServerID, a.serverID)
	}
}

func TestPerformer_Succeeds(t *testing.T) {
	h := newHarness(t)
	var ran bool
	h.script(func(context.Context, job.Descriptor) error {
		ran = true
		return nil
	})

	j := h.claim(t, h.enqueue(t, "report"))
	h.performer.Perform(context.Background(), j)

	if !ran {
		t.Fatal("runner not called")
	}
	stored := h.stored(t, j.ID)
	assertStates(t, stored, job.StateEnqueued, job.StateProcessing, job.StateSucceeded)
	if stored.Version != 3 {
		t.Errorf("Version = %d, want 3", stored.Version)
	}
	if h.steward.Occupied() != 0 {
		t.Errorf("Occupied = %d, want 0", h.steward.Occupied())
	}
}

func TestPerformer_FailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	h.script(func(context.Context, job.Descriptor) error {
		return errors.New("smtp unreachable")
	})

	j := h.claim(t, h.enqueue(t, "mail"))
	h.performer.Perform(context.Background(), j)

	stored := h.stored(t, j.ID)
	assertStates(t, stored, job.StateEnqueued, job.StateProcessing, job.StateFailed, job.StateScheduled)

	history := stored.History()
	failed := history[2]
	if failed.Message != "smtp unreachable" || !failed.WillRetry {
		t.Errorf("failed state = %+v", failed)
	}
	if got := stored.State().ScheduledAt; !got.Equal(now.Add(time.Minute)) {
		t.Errorf("ScheduledAt = %s, want %s", got, now.Add(time.Minute))
	}
}

func TestPerformer_ExhaustedRetriesDelete(t *testing.T) {
	h := newHarness(t, worker.WithRetryPolicy(&backoff.RetryPolicy{
		MaxRetries: 0,
		Strategy:   backoff.NewConstant(time.Minute),
	}))
	h.script(func(context.Context, job.Descriptor) error {
		return errors.New("bad input")
	})

	j := h.claim(t, h.enqueue(t, "parse"))
	h.performer.Perform(context.Background(), j)

	stored := h.stored(t, j.ID)
	assertStates(t, stored, job.StateEnqueued, job.StateProcessing, job.StateFailed, job.StateDeleted)
	if stored.History()[2].WillRetry {
		t.Error("expected WillRetry=false on the final failure")
	}
}

func TestPerformer_PanicIsAFailure(t *testing.T) {
	h := newHarness(t)
	h.script(func(context.Context, job.Descriptor) error {
		panic("nil map")
	})

	j := h.claim(t, h.enqueue(t, "crash"))
	h.performer.Perform(context.Background(), j)

	failed := h.stored(t, j.ID).History()[2]
	if failed.Name != job.StateFailed {
		t.Fatalf("state = %s, want FAILED", failed.Name)
	}
	if failed.Message != "panic: nil map" {
		t.Errorf("Message = %q", failed.Message)
	}
	if !strings.Contains(failed.Cause, "goroutine") {
		t.Errorf("expected the stack trace as cause, got %q", failed.Cause)
	}
}

func TestPerformer_MissingRunner(t *testing.T) {
	h := newHarness(t)
	j := h.claim(t, h.enqueue(t, "unknown"))
	h.performer.Perform(context.Background(), j)

	stored := h.stored(t, j.ID)
	assertStates(t, stored, job.StateEnqueued, job.StateProcessing, job.StateFailed)
	if stored.State().WillRetry {
		t.Error("expected no retry for a missing runner")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fatal) != 1 || !errors.Is(h.fatal[0], shepherd.ErrNoRunner) {
		t.Errorf("fatal = %v, want one ErrNoRunner", h.fatal)
	}
}

func TestPerformer_MissingRunnerNotFatalWhenDisabled(t *testing.T) {
	h := newHarness(t, worker.WithStopOnMissingRunner(false))
	j := h.claim(t, h.enqueue(t, "unknown"))
	h.performer.Perform(context.Background(), j)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fatal) != 0 {
		t.Errorf("fatal = %v, want none", h.fatal)
	}
}

func TestPerformer_InterruptedRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.script(func(ctx context.Context, _ job.Descriptor) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	j := h.claim(t, h.enqueue(t, "long"))
	h.performer.Dispatch(context.Background(), []*job.Job{j})

	<-started
	if !h.steward.Interrupt(j.ID) {
		t.Fatal("expected the run in flight")
	}
	if err := h.pool.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	assertStates(t, h.stored(t, j.ID), job.StateEnqueued, job.StateProcessing)
}

func TestPerformer_DeletedWhileRunning(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.script(func(context.Context, job.Descriptor) error {
		<-release
		return nil
	})

	j := h.claim(t, h.enqueue(t, "long"))
	h.performer.Dispatch(context.Background(), []*job.Job{j})

	// A client deletes the job concurrently.
	deleted := h.stored(t, j.ID)
	if err := deleted.Delete("cancelled", now); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.store.SaveJob(context.Background(), deleted); err != nil {
		t.Fatalf("save delete: %v", err)
	}

	close(release)
	if err := h.pool.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := h.stored(t, j.ID).StateName(); got != job.StateDeleted {
		t.Errorf("state = %s, want DELETED", got)
	}
}

func TestPerformer_DispatchRunsAll(t *testing.T) {
	h := newHarness(t)
	h.script(func(context.Context, job.Descriptor) error { return nil })

	var jobs []*job.Job
	for _, m := range []string{"a", "b", "c", "d", "e", "f"} {
		jobs = append(jobs, h.enqueue(t, m))
	}
	claimed, err := h.performer.Claim(context.Background(), jobs)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	h.performer.Dispatch(context.Background(), claimed)
	if err := h.pool.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	n, _ := h.store.CountJobs(context.Background(), job.StateSucceeded)
	if n != 6 {
		t.Errorf("succeeded = %d, want 6", n)
	}
	if h.steward.Occupied() != 0 {
		t.Errorf("Occupied = %d, want 0", h.steward.Occupied())
	}
}

// ── Filters ──────────────────────────────────────────

type filterRecorder struct {
	mu     sync.Mutex
	events []string
}

func (f *filterRecorder) Name() string { return "filter-recorder" }

func (f *filterRecorder) OnStateElection(_ context.Context, j *job.Job, candidate job.State) error {
	f.add("elect " + string(j.StateName()) + "->" + string(candidate.Name))
	return nil
}

func (f *filterRecorder) OnStateApplied(_ context.Context, j *job.Job, from job.StateName) error {
	f.add("applied " + string(from) + "->" + string(j.StateName()))
	return errors.New("filter errors never block persistence")
}

func (f *filterRecorder) add(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func TestPerformer_FiltersAroundEveryTransition(t *testing.T) {
	h := newHarness(t)
	rec := &filterRecorder{}
	h.registry.Register(rec)
	h.script(func(context.Context, job.Descriptor) error { return nil })

	j := h.claim(t, h.enqueue(t, "report"))
	h.performer.Perform(context.Background(), j)

	want := []string{
		"elect ENQUEUED->PROCESSING",
		"applied ENQUEUED->PROCESSING",
		"elect PROCESSING->SUCCEEDED",
		"applied PROCESSING->SUCCEEDED",
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, rec.events[i], want[i])
		}
	}
	if got := h.stored(t, j.ID).StateName(); got != job.StateSucceeded {
		t.Errorf("state = %s, want SUCCEEDED", got)
	}
}
