package recurring

import "context"

// Store defines the persistence contract for recurring job templates.
type Store interface {
	// SaveRecurringJob inserts or replaces a template by ID.
	SaveRecurringJob(ctx context.Context, r *RecurringJob) error

	// GetRecurringJob retrieves a template by ID.
	GetRecurringJob(ctx context.Context, recurringID string) (*RecurringJob, error)

	// ListRecurringJobs returns all templates ordered by ID.
	ListRecurringJobs(ctx context.Context) ([]*RecurringJob, error)

	// CountRecurringJobs returns the number of templates.
	CountRecurringJobs(ctx context.Context) (int64, error)

	// DeleteRecurringJob removes a template and returns the number removed.
	DeleteRecurringJob(ctx context.Context, recurringID string) (int, error)
}
