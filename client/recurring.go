package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
)

// AddOrReplaceRecurring registers a recurring job under recurringID,
// replacing any previous definition with that id. The schedule and the
// timezone are validated first.
func (c *Client) AddOrReplaceRecurring(ctx context.Context, recurringID string, d job.Descriptor, schedule, timezone string) (*recurring.RecurringJob, error) {
	if recurringID == "" {
		return nil, fmt.Errorf("shepherd/client: recurring job id is required")
	}

	r := recurring.New(recurringID, d, schedule, timezone)
	loc, err := r.Location()
	if err != nil {
		return nil, err
	}
	if _, err := c.calc.Next(schedule, c.now(), loc); err != nil {
		return nil, err
	}

	if existing, err := c.store.GetRecurringJob(ctx, recurringID); err == nil {
		r.CreatedAt = existing.CreatedAt
	}

	if err := c.store.SaveRecurringJob(ctx, r); err != nil {
		return nil, fmt.Errorf("shepherd/client: save recurring job %q: %w", recurringID, err)
	}
	c.logger.Info("recurring job saved",
		slog.String("recurring_job_id", recurringID),
		slog.String("schedule", schedule),
		slog.String("target", d.Key()),
	)
	return r, nil
}

// RemoveRecurring deletes a recurring job. Jobs it already spawned are left
// alone.
func (c *Client) RemoveRecurring(ctx context.Context, recurringID string) error {
	n, err := c.store.DeleteRecurringJob(ctx, recurringID)
	if err != nil {
		return fmt.Errorf("shepherd/client: remove recurring job %q: %w", recurringID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", shepherd.ErrRecurringJobNotFound, recurringID)
	}
	return nil
}

// ListRecurring returns every recurring job.
func (c *Client) ListRecurring(ctx context.Context) ([]*recurring.RecurringJob, error) {
	return c.store.ListRecurringJobs(ctx)
}
