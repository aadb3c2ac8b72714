// Package storetest is the conformance suite every store.Store backend
// must pass. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/metadata"
	"github.com/xraph/shepherd/recurring"
	"github.com/xraph/shepherd/store"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Lifecycle", testLifecycle},
		{"SaveJobInsertsAndVersions", testSaveJobInsertsAndVersions},
		{"SaveJobRejectsDuplicateInsert", testSaveJobRejectsDuplicateInsert},
		{"SaveJobRejectsStaleVersion", testSaveJobRejectsStaleVersion},
		{"SaveJobsReportsPartialFailure", testSaveJobsReportsPartialFailure},
		{"ClaimIsExclusive", testClaimIsExclusive},
		{"MaterializationIsIdempotent", testMaterializationIsIdempotent},
		{"CountAndListJobs", testCountAndListJobs},
		{"ListScheduledBefore", testListScheduledBefore},
		{"ListAndDeleteUpdatedBefore", testListAndDeleteUpdatedBefore},
		{"DeleteJobPermanently", testDeleteJobPermanently},
		{"ExistsForSignature", testExistsForSignature},
		{"RecurringJobs", testRecurringJobs},
		{"Servers", testServers},
		{"ServerTimeout", testServerTimeout},
		{"Metadata", testMetadata},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// now is truncated to the coarsest precision among the backends.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func descriptor(t *testing.T, member string, params ...any) job.Descriptor {
	t.Helper()
	d, err := job.NewDescriptor(job.TargetTypeHandler, member, params...)
	require.NoError(t, err)
	return d
}

func newEnqueued(t *testing.T, at time.Time) *job.Job {
	t.Helper()
	return job.NewWithID(id.NewJobID(), descriptor(t, "email.send", map[string]string{"to": "ops@example.com"}), job.Enqueued().WithTime(at))
}

func newScheduled(t *testing.T, created, due time.Time) *job.Job {
	t.Helper()
	return job.NewWithID(id.NewJobID(), descriptor(t, "report.build", 42), job.Scheduled(due, "test").WithTime(created))
}

func save(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		require.NoError(t, s.SaveJob(context.Background(), j))
	}
}

func ids(jobs []*job.Job) []id.JobID {
	out := make([]id.JobID, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Migrate(ctx), "second migrate must be a no-op")
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func testSaveJobInsertsAndVersions(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := now()
	j := newEnqueued(t, at)

	require.NoError(t, s.SaveJob(ctx, j))
	require.Equal(t, 1, j.Version)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, j.ID, got.ID)
	require.Equal(t, 1, got.Version)
	require.Equal(t, j.Signature, got.Signature)
	require.Equal(t, job.StateEnqueued, got.StateName())
	require.Equal(t, j.Descriptor.Key(), got.Descriptor.Key())
	require.WithinDuration(t, at, got.CreatedAt, time.Millisecond)

	var params map[string]string
	require.NoError(t, got.Descriptor.Param(0, &params))
	require.Equal(t, "ops@example.com", params["to"])

	serverID := id.NewServerID()
	require.NoError(t, got.StartProcessing(serverID, at.Add(time.Second)))
	require.NoError(t, s.SaveJob(ctx, got))
	require.Equal(t, 2, got.Version)

	reloaded, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Version)
	require.Equal(t, job.StateProcessing, reloaded.StateName())
	require.Equal(t, serverID, reloaded.State().ServerID)
	require.Len(t, reloaded.History(), 2)
	require.WithinDuration(t, at.Add(time.Second), reloaded.UpdatedAt, time.Millisecond)

	_, err = s.GetJob(ctx, id.NewJobID())
	require.ErrorIs(t, err, shepherd.ErrJobNotFound)
}

func testSaveJobRejectsDuplicateInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newEnqueued(t, now())
	save(t, s, j)

	dup := job.NewWithID(j.ID, j.Descriptor, job.Enqueued())
	err := s.SaveJob(ctx, dup)
	require.ErrorIs(t, err, shepherd.ErrConcurrentModification)
	require.Equal(t, 0, dup.Version)
}

func testSaveJobRejectsStaleVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := now()
	j := newEnqueued(t, at)
	save(t, s, j)

	a, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	b, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)

	require.NoError(t, a.StartProcessing(id.NewServerID(), at.Add(time.Second)))
	require.NoError(t, s.SaveJob(ctx, a))

	require.NoError(t, b.Delete("stale", at.Add(2*time.Second)))
	err = s.SaveJob(ctx, b)
	require.ErrorIs(t, err, shepherd.ErrConcurrentModification)
	require.Equal(t, []id.JobID{j.ID}, shepherd.ConflictingJobs(err))
	require.Equal(t, 1, b.Version, "a rejected save must not bump the version")

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateProcessing, got.StateName())
}

func testSaveJobsReportsPartialFailure(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := now()
	fresh := newEnqueued(t, at)
	other := newEnqueued(t, at)
	stale := newEnqueued(t, at)
	save(t, s, other, stale)

	winner, err := s.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	require.NoError(t, winner.Delete("winner", at.Add(time.Second)))
	require.NoError(t, s.SaveJob(ctx, winner))

	require.NoError(t, other.StartProcessing(id.NewServerID(), at.Add(time.Second)))
	require.NoError(t, stale.StartProcessing(id.NewServerID(), at.Add(time.Second)))

	err = s.SaveJobs(ctx, []*job.Job{fresh, other, stale})
	require.ErrorIs(t, err, shepherd.ErrConcurrentModification)
	require.Equal(t, []id.JobID{stale.ID}, shepherd.ConflictingJobs(err))

	require.Equal(t, 1, fresh.Version)
	require.Equal(t, 2, other.Version)

	got, err := s.GetJob(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateProcessing, got.StateName())

	got, err = s.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateDeleted, got.StateName())

	require.NoError(t, s.SaveJobs(ctx, nil))
}

func testClaimIsExclusive(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newEnqueued(t, now())
	save(t, s, j)

	const contenders = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := s.GetJob(ctx, j.ID)
			if err != nil {
				return
			}
			if snapshot.StartProcessing(id.NewServerID(), time.Now().UTC()) != nil {
				return
			}
			if s.SaveJob(ctx, snapshot) == nil {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, claims)
	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateProcessing, got.StateName())
	require.Equal(t, 2, got.Version)
}

func testMaterializationIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := recurring.New("nightly-report", descriptor(t, "report.build"), "0 3 * * *", "")
	due := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	const servers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.SaveJob(ctx, r.NewInstance(due, now()))
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			if !errors.Is(err, shepherd.ErrConcurrentModification) {
				t.Errorf("unexpected save error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	n, err := s.CountJobs(ctx, job.StateScheduled)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.GetJob(ctx, r.InstanceID(due))
	require.NoError(t, err)
	require.Equal(t, r.ID, got.RecurringJobID)
	require.Equal(t, r.Signature(), got.Signature)
	require.True(t, due.Equal(got.State().ScheduledAt))
}

func testCountAndListJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	var enqueued []*job.Job
	for i := range 5 {
		j := newEnqueued(t, base.Add(time.Duration(i)*time.Second))
		enqueued = append(enqueued, j)
	}
	save(t, s, enqueued...)
	save(t, s, newScheduled(t, base, base.Add(time.Hour)))

	n, err := s.CountJobs(ctx, job.StateEnqueued)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	n, err = s.CountJobs(ctx, job.StateFailed)
	require.NoError(t, err)
	require.Zero(t, n)

	tests := []struct {
		name string
		page job.Page
		want []id.JobID
	}{
		{"all ascending", job.Page{}, ids(enqueued)},
		{"first page", job.FirstPage(2), ids(enqueued[:2])},
		{"offset", job.Page{Offset: 3, Limit: 10}, ids(enqueued[3:])},
		{"descending", job.Page{Limit: 2, Order: job.OrderDesc}, []id.JobID{enqueued[4].ID, enqueued[3].ID}},
		{"past the end", job.Page{Offset: 10, Limit: 2}, []id.JobID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, job.StateEnqueued, tt.page)
			require.NoError(t, err)
			require.Equal(t, tt.want, ids(got))
		})
	}
}

func testListScheduledBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	late := newScheduled(t, base, base.Add(2*time.Minute))
	early := newScheduled(t, base, base.Add(-time.Minute))
	boundary := newScheduled(t, base, base)
	future := newScheduled(t, base, base.Add(time.Hour))
	save(t, s, late, early, boundary, future, newEnqueued(t, base))

	got, err := s.ListScheduledBefore(ctx, base.Add(2*time.Minute), job.FirstPage(10))
	require.NoError(t, err)
	require.Equal(t, []id.JobID{early.ID, boundary.ID, late.ID}, ids(got))

	got, err = s.ListScheduledBefore(ctx, base.Add(2*time.Minute), job.FirstPage(1))
	require.NoError(t, err)
	require.Equal(t, []id.JobID{early.ID}, ids(got))
}

func testListAndDeleteUpdatedBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	old := newEnqueued(t, base.Add(-2*time.Hour))
	recent := newEnqueued(t, base)
	save(t, s, old, recent)

	for _, j := range []*job.Job{old, recent} {
		require.NoError(t, j.StartProcessing(id.NewServerID(), j.UpdatedAt))
		require.NoError(t, j.Succeed(j.UpdatedAt.Add(time.Second)))
	}
	require.NoError(t, s.SaveJobs(ctx, []*job.Job{old, recent}))

	got, err := s.ListUpdatedBefore(ctx, job.StateSucceeded, base.Add(-time.Hour), job.FirstPage(10))
	require.NoError(t, err)
	require.Equal(t, []id.JobID{old.ID}, ids(got))

	got, err = s.ListUpdatedBefore(ctx, job.StateEnqueued, base.Add(time.Hour), job.FirstPage(10))
	require.NoError(t, err)
	require.Empty(t, got)

	n, err := s.DeleteJobsUpdatedBefore(ctx, job.StateSucceeded, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.GetJob(ctx, old.ID)
	require.ErrorIs(t, err, shepherd.ErrJobNotFound)
	_, err = s.GetJob(ctx, recent.ID)
	require.NoError(t, err)
}

func testDeleteJobPermanently(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newEnqueued(t, now())
	save(t, s, j)

	n, err := s.DeleteJobPermanently(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.DeleteJobPermanently(ctx, j.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = s.GetJob(ctx, j.ID)
	require.ErrorIs(t, err, shepherd.ErrJobNotFound)
}

func testExistsForSignature(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newScheduled(t, now(), now().Add(time.Hour))
	save(t, s, j)

	ok, err := s.ExistsForSignature(ctx, j.Signature, job.ActiveStates...)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ExistsForSignature(ctx, j.Signature, job.StateSucceeded, job.StateFailed)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.ExistsForSignature(ctx, "unknown", job.AllStates...)
	require.NoError(t, err)
	require.False(t, ok)
}

// ──────────────────────────────────────────────────
// Recurring jobs
// ──────────────────────────────────────────────────

func testRecurringJobs(t *testing.T, s store.Store) {
	ctx := context.Background()

	b := recurring.New("b-cleanup", descriptor(t, "cleanup"), "@every 1m", "")
	a := recurring.New("a-report", descriptor(t, "report.build", 7), "0 3 * * *", "Europe/Brussels")
	require.NoError(t, s.SaveRecurringJob(ctx, b))
	require.NoError(t, s.SaveRecurringJob(ctx, a))

	got, err := s.GetRecurringJob(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.Schedule, got.Schedule)
	require.Equal(t, a.Timezone, got.Timezone)
	require.Equal(t, a.Descriptor.Signature(), got.Descriptor.Signature())

	a.Schedule = "0 4 * * *"
	require.NoError(t, s.SaveRecurringJob(ctx, a))

	list, err := s.ListRecurringJobs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a-report", list[0].ID)
	require.Equal(t, "0 4 * * *", list[0].Schedule)
	require.Equal(t, "b-cleanup", list[1].ID)

	n, err := s.CountRecurringJobs(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	deleted, err := s.DeleteRecurringJob(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	deleted, err = s.DeleteRecurringJob(ctx, b.ID)
	require.NoError(t, err)
	require.Zero(t, deleted)

	_, err = s.GetRecurringJob(ctx, b.ID)
	require.ErrorIs(t, err, shepherd.ErrRecurringJobNotFound)
}

// ──────────────────────────────────────────────────
// Servers
// ──────────────────────────────────────────────────

func heartbeat(first time.Time) *cluster.ServerHeartbeat {
	return &cluster.ServerHeartbeat{
		ID:             id.NewServerID(),
		Name:           "worker",
		WorkerPoolSize: 4,
		PollInterval:   15 * time.Second,
		FirstHeartbeat: first,
		LastHeartbeat:  first,
		Running:        true,
	}
}

func testServers(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	_, err := s.LongestRunningServerID(ctx)
	require.ErrorIs(t, err, shepherd.ErrServerNotFound)

	younger := heartbeat(base)
	older := heartbeat(base.Add(-time.Minute))
	require.NoError(t, s.AnnounceServer(ctx, younger))
	require.NoError(t, s.AnnounceServer(ctx, older))

	servers, err := s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	require.Equal(t, older.ID, servers[0].ID)
	require.Equal(t, 4, servers[0].WorkerPoolSize)
	require.Equal(t, 15*time.Second, servers[0].PollInterval)

	leader, err := s.LongestRunningServerID(ctx)
	require.NoError(t, err)
	require.Equal(t, older.ID, leader)

	younger.LastHeartbeat = base.Add(time.Second)
	younger.Metrics.Goroutines = 12
	running, err := s.SignalServerAlive(ctx, younger)
	require.NoError(t, err)
	require.True(t, running)

	servers, err = s.ListServers(ctx)
	require.NoError(t, err)
	require.WithinDuration(t, base.Add(time.Second), servers[1].LastHeartbeat, time.Millisecond)
	require.WithinDuration(t, base, servers[1].FirstHeartbeat, time.Millisecond)
	require.Equal(t, 12, servers[1].Metrics.Goroutines)

	require.NoError(t, s.SignalServerStopped(ctx, older.ID))
	leader, err = s.LongestRunningServerID(ctx)
	require.NoError(t, err)
	require.Equal(t, younger.ID, leader)
}

func testServerTimeout(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	stale := heartbeat(base.Add(-time.Hour))
	live := heartbeat(base)
	require.NoError(t, s.AnnounceServer(ctx, stale))
	require.NoError(t, s.AnnounceServer(ctx, live))

	n, err := s.RemoveTimedOutServers(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	servers, err := s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.Equal(t, live.ID, servers[0].ID)

	stale.LastHeartbeat = base
	_, err = s.SignalServerAlive(ctx, stale)
	require.ErrorIs(t, err, shepherd.ErrServerTimedOut)
}

// ──────────────────────────────────────────────────
// Metadata
// ──────────────────────────────────────────────────

func testMetadata(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.SaveMetadata(ctx, metadata.New("fatal", "srv-b", "boom")))
	require.NoError(t, s.SaveMetadata(ctx, metadata.New("fatal", "srv-a", "bang")))
	require.NoError(t, s.SaveMetadata(ctx, metadata.New("version", metadata.OwnerCluster, "1")))

	got, err := s.GetMetadata(ctx, "fatal", "srv-a")
	require.NoError(t, err)
	require.Equal(t, "bang", got.Value)

	require.NoError(t, s.SaveMetadata(ctx, metadata.New("fatal", "srv-a", "bang again")))
	got, err = s.GetMetadata(ctx, "fatal", "srv-a")
	require.NoError(t, err)
	require.Equal(t, "bang again", got.Value)

	list, err := s.ListMetadata(ctx, "fatal")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "srv-a", list[0].Owner)
	require.Equal(t, "srv-b", list[1].Owner)

	n, err := s.DeleteMetadata(ctx, "fatal")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = s.GetMetadata(ctx, "fatal", "srv-a")
	require.ErrorIs(t, err, shepherd.ErrMetadataNotFound)

	_, err = s.GetMetadata(ctx, "version", metadata.OwnerCluster)
	require.NoError(t, err)
}
