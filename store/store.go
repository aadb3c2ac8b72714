// Package store defines the aggregate persistence interface, derived job
// statistics, and rate-limited change notification.
package store

import (
	"context"
	"time"

	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/metadata"
	"github.com/xraph/shepherd/recurring"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface. A single backend
// (postgres, sqlite, redis, mongo, memory) implements all of them.
type Store interface {
	job.Store
	recurring.Store
	cluster.Store
	metadata.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// JobStats are eventually consistent aggregate counts. They are for
// observability only and never drive decisions.
type JobStats struct {
	Scheduled     int64     `json:"scheduled"`
	Enqueued      int64     `json:"enqueued"`
	Processing    int64     `json:"processing"`
	Succeeded     int64     `json:"succeeded"`
	Failed        int64     `json:"failed"`
	Deleted       int64     `json:"deleted"`
	RecurringJobs int64     `json:"recurring_jobs"`
	Servers       int       `json:"servers"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Total is the number of jobs across all states.
func (s JobStats) Total() int64 {
	return s.Scheduled + s.Enqueued + s.Processing + s.Succeeded + s.Failed + s.Deleted
}

// Same reports whether both snapshots hold the same counts.
func (s JobStats) Same(o JobStats) bool {
	s.ComputedAt, o.ComputedAt = time.Time{}, time.Time{}
	return s == o
}

// Stats computes JobStats from the store's count operations.
func Stats(ctx context.Context, s Store) (JobStats, error) {
	stats := JobStats{ComputedAt: time.Now().UTC()}
	counts := map[job.StateName]*int64{
		job.StateScheduled:  &stats.Scheduled,
		job.StateEnqueued:   &stats.Enqueued,
		job.StateProcessing: &stats.Processing,
		job.StateSucceeded:  &stats.Succeeded,
		job.StateFailed:     &stats.Failed,
		job.StateDeleted:    &stats.Deleted,
	}
	for state, dst := range counts {
		n, err := s.CountJobs(ctx, state)
		if err != nil {
			return JobStats{}, err
		}
		*dst = n
	}

	n, err := s.CountRecurringJobs(ctx)
	if err != nil {
		return JobStats{}, err
	}
	stats.RecurringJobs = n

	servers, err := s.ListServers(ctx)
	if err != nil {
		return JobStats{}, err
	}
	stats.Servers = len(servers)
	return stats, nil
}
