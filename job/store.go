package job

import (
	"context"
	"time"

	"github.com/xraph/shepherd/id"
)

// Order sorts job lists by update time.
type Order int

const (
	// OrderAsc returns the least recently updated jobs first.
	OrderAsc Order = iota
	// OrderDesc returns the most recently updated jobs first.
	OrderDesc
)

// Page controls pagination for job list queries.
type Page struct {
	// Offset is the number of jobs to skip.
	Offset int
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Order sorts by update time.
	Order Order
}

// FirstPage returns the first limit jobs in ascending update order.
func FirstPage(limit int) Page {
	return Page{Limit: limit}
}

// Store defines the persistence contract for jobs.
//
// Writes are conditional on the job's version. A save of a job with
// Version 0 inserts it and fails if the id already exists; any other save
// updates the record only when the stored version equals the job's version.
// A successful save increments the job's Version by one. Conflicts are
// reported as *shepherd.ConcurrentModificationError.
type Store interface {
	// SaveJob inserts or conditionally updates one job.
	SaveJob(ctx context.Context, j *Job) error

	// SaveJobs saves every job that versioned safely and reports the others
	// in a single *shepherd.ConcurrentModificationError.
	SaveJobs(ctx context.Context, jobs []*Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// CountJobs returns the number of jobs in the given state.
	CountJobs(ctx context.Context, state StateName) (int64, error)

	// ListJobs returns jobs in the given state ordered by update time.
	ListJobs(ctx context.Context, state StateName, page Page) ([]*Job, error)

	// ListScheduledBefore returns Scheduled jobs due at or before t,
	// earliest first.
	ListScheduledBefore(ctx context.Context, t time.Time, page Page) ([]*Job, error)

	// ListUpdatedBefore returns jobs in the given state last updated before t.
	ListUpdatedBefore(ctx context.Context, state StateName, t time.Time, page Page) ([]*Job, error)

	// DeleteJobPermanently removes a job and returns the number removed.
	DeleteJobPermanently(ctx context.Context, jobID id.JobID) (int, error)

	// DeleteJobsUpdatedBefore removes every job in the given state last
	// updated before t and returns the number removed.
	DeleteJobsUpdatedBefore(ctx context.Context, state StateName, t time.Time) (int, error)

	// ExistsForSignature reports whether a job with the signature is in one
	// of the given states.
	ExistsForSignature(ctx context.Context, signature string, states ...StateName) (bool, error)
}
