// Package memory provides a fully in-memory implementation of store.Store.
// It is safe for concurrent use and satisfies the same contract as the
// durable backends, which makes it the store of choice for unit tests and
// embedding.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/metadata"
	"github.com/xraph/shepherd/recurring"
	"github.com/xraph/shepherd/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type metadataKey struct {
	name  string
	owner string
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs      map[id.JobID]*job.Job
	recurring map[string]*recurring.RecurringJob
	servers   map[id.ServerID]*cluster.ServerHeartbeat
	metadata  map[metadataKey]*metadata.Metadata

	now func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock replaces time.Now for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:      make(map[id.JobID]*job.Job),
		recurring: make(map[string]*recurring.RecurringJob),
		servers:   make(map[id.ServerID]*cluster.ServerHeartbeat),
		metadata:  make(map[metadataKey]*metadata.Metadata),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping and Close.
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// SaveJob inserts or conditionally updates one job.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.saveLocked(j) {
		return shepherd.NewConcurrentModificationError(j.ID)
	}
	return nil
}

// SaveJobs saves every job that versioned safely and reports the rest.
func (m *Store) SaveJobs(_ context.Context, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []id.JobID
	for _, j := range jobs {
		if !m.saveLocked(j) {
			failed = append(failed, j.ID)
		}
	}
	if len(failed) > 0 {
		return shepherd.NewConcurrentModificationError(failed...)
	}
	return nil
}

func (m *Store) saveLocked(j *job.Job) bool {
	stored, exists := m.jobs[j.ID]
	if j.IsNew() {
		if exists {
			return false
		}
	} else if !exists || stored.Version != j.Version {
		return false
	}

	j.Version++
	m.jobs[j.ID] = j.Clone()
	return true
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, shepherd.ErrJobNotFound
	}
	return j.Clone(), nil
}

// CountJobs returns the number of jobs in the given state.
func (m *Store) CountJobs(_ context.Context, state job.StateName) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if j.StateName() == state {
			n++
		}
	}
	return n, nil
}

// ListJobs returns jobs in the given state ordered by update time.
func (m *Store) ListJobs(_ context.Context, state job.StateName, page job.Page) ([]*job.Job, error) {
	return m.filter(page, byUpdatedAt(page.Order), func(j *job.Job) bool {
		return j.StateName() == state
	}), nil
}

// ListScheduledBefore returns Scheduled jobs due at or before t.
func (m *Store) ListScheduledBefore(_ context.Context, t time.Time, page job.Page) ([]*job.Job, error) {
	return m.filter(page, byScheduledAt, func(j *job.Job) bool {
		s := j.State()
		return s.Name == job.StateScheduled && !s.ScheduledAt.After(t)
	}), nil
}

// ListUpdatedBefore returns jobs in the given state updated before t.
func (m *Store) ListUpdatedBefore(_ context.Context, state job.StateName, t time.Time, page job.Page) ([]*job.Job, error) {
	return m.filter(page, byUpdatedAt(page.Order), func(j *job.Job) bool {
		return j.StateName() == state && j.UpdatedAt.Before(t)
	}), nil
}

// DeleteJobPermanently removes a job.
func (m *Store) DeleteJobPermanently(_ context.Context, jobID id.JobID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return 0, nil
	}
	delete(m.jobs, jobID)
	return 1, nil
}

// DeleteJobsUpdatedBefore removes jobs in the given state updated before t.
func (m *Store) DeleteJobsUpdatedBefore(_ context.Context, state job.StateName, t time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, j := range m.jobs {
		if j.StateName() == state && j.UpdatedAt.Before(t) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

// ExistsForSignature reports whether a job with the signature is in one of
// the given states.
func (m *Store) ExistsForSignature(_ context.Context, signature string, states ...job.StateName) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.Signature == signature && slices.Contains(states, j.StateName()) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Store) filter(page job.Page, less func(a, b *job.Job) int, keep func(*job.Job) bool) []*job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if keep(j) {
			matched = append(matched, j)
		}
	}
	slices.SortFunc(matched, less)

	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return []*job.Job{}
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}

	result := make([]*job.Job, len(matched))
	for i, j := range matched {
		result[i] = j.Clone()
	}
	return result
}

func byUpdatedAt(order job.Order) func(a, b *job.Job) int {
	return func(a, b *job.Job) int {
		c := a.UpdatedAt.Compare(b.UpdatedAt)
		if c == 0 {
			c = id.Compare(a.ID, b.ID)
		}
		if order == job.OrderDesc {
			return -c
		}
		return c
	}
}

func byScheduledAt(a, b *job.Job) int {
	if c := a.State().ScheduledAt.Compare(b.State().ScheduledAt); c != 0 {
		return c
	}
	return id.Compare(a.ID, b.ID)
}

// ──────────────────────────────────────────────────
// Recurring Job Store
// ──────────────────────────────────────────────────

// SaveRecurringJob inserts or replaces a template.
func (m *Store) SaveRecurringJob(_ context.Context, r *recurring.RecurringJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.recurring[r.ID]; ok && r.CreatedAt.IsZero() {
		r.CreatedAt = existing.CreatedAt
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	r.UpdatedAt = m.now()
	m.recurring[r.ID] = r.Clone()
	return nil
}

// GetRecurringJob retrieves a template by ID.
func (m *Store) GetRecurringJob(_ context.Context, recurringID string) (*recurring.RecurringJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.recurring[recurringID]
	if !ok {
		return nil, shepherd.ErrRecurringJobNotFound
	}
	return r.Clone(), nil
}

// ListRecurringJobs returns all templates ordered by ID.
func (m *Store) ListRecurringJobs(_ context.Context) ([]*recurring.RecurringJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*recurring.RecurringJob, 0, len(m.recurring))
	for _, r := range m.recurring {
		result = append(result, r.Clone())
	}
	slices.SortFunc(result, func(a, b *recurring.RecurringJob) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

// CountRecurringJobs returns the number of templates.
func (m *Store) CountRecurringJobs(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.recurring)), nil
}

// DeleteRecurringJob removes a template.
func (m *Store) DeleteRecurringJob(_ context.Context, recurringID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recurring[recurringID]; !ok {
		return 0, nil
	}
	delete(m.recurring, recurringID)
	return 1, nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// AnnounceServer registers a heartbeat.
func (m *Store) AnnounceServer(_ context.Context, hb *cluster.ServerHeartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[hb.ID] = hb.Clone()
	return nil
}

// SignalServerAlive refreshes an announced heartbeat.
func (m *Store) SignalServerAlive(_ context.Context, hb *cluster.ServerHeartbeat) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.servers[hb.ID]
	if !ok {
		return false, shepherd.ErrServerTimedOut
	}
	stored.LastHeartbeat = hb.LastHeartbeat
	stored.Metrics = hb.Metrics
	return stored.Running, nil
}

// SignalServerStopped removes a heartbeat.
func (m *Store) SignalServerStopped(_ context.Context, serverID id.ServerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, serverID)
	return nil
}

// ListServers returns all heartbeats by seniority.
func (m *Store) ListServers(_ context.Context) ([]*cluster.ServerHeartbeat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.ServerHeartbeat, 0, len(m.servers))
	for _, s := range m.servers {
		result = append(result, s.Clone())
	}
	cluster.SortServers(result)
	return result, nil
}

// RemoveTimedOutServers deletes heartbeats last refreshed before t.
func (m *Store) RemoveTimedOutServers(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, s := range m.servers {
		if s.LastHeartbeat.Before(before) {
			delete(m.servers, key)
			n++
		}
	}
	return n, nil
}

// LongestRunningServerID returns the most senior server.
func (m *Store) LongestRunningServerID(ctx context.Context) (id.ServerID, error) {
	servers, _ := m.ListServers(ctx)
	if len(servers) == 0 {
		return id.Nil, shepherd.ErrServerNotFound
	}
	return servers[0].ID, nil
}

// SetServerRunning flips the stored Running flag, the way an operator would
// request a server to pause.
func (m *Store) SetServerRunning(serverID id.ServerID, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.servers[serverID]; ok {
		s.Running = running
	}
}

// ──────────────────────────────────────────────────
// Metadata Store
// ──────────────────────────────────────────────────

// SaveMetadata inserts or replaces a record.
func (m *Store) SaveMetadata(_ context.Context, md *metadata.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := metadataKey{md.Name, md.Owner}
	if existing, ok := m.metadata[key]; ok && md.CreatedAt.IsZero() {
		md.CreatedAt = existing.CreatedAt
	}
	metadata.Touch(md, m.now())
	m.metadata[key] = md.Clone()
	return nil
}

// GetMetadata returns one record.
func (m *Store) GetMetadata(_ context.Context, name, owner string) (*metadata.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	md, ok := m.metadata[metadataKey{name, owner}]
	if !ok {
		return nil, shepherd.ErrMetadataNotFound
	}
	return md.Clone(), nil
}

// ListMetadata returns every record with the given name ordered by owner.
func (m *Store) ListMetadata(_ context.Context, name string) ([]*metadata.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*metadata.Metadata, 0)
	for key, md := range m.metadata {
		if key.name == name {
			result = append(result, md.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *metadata.Metadata) int { return cmp.Compare(a.Owner, b.Owner) })
	return result, nil
}

// DeleteMetadata removes every record with the given name.
func (m *Store) DeleteMetadata(_ context.Context, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.metadata {
		if key.name == name {
			delete(m.metadata, key)
			n++
		}
	}
	return n, nil
}
