// Package client submits and manages background jobs. It talks to the
// store only: any process holding a store can enqueue work that the
// servers of the cluster pick up.
//
// Usage:
//
//	c := client.New(pgStore)
//
//	// Enqueue a typed job.
//	j, err := client.EnqueueDefinition(ctx, c, SendEmail, EmailInput{To: "user@example.com"})
//
//	// Run it in an hour instead.
//	j, err = client.ScheduleDefinition(ctx, c, SendEmail, input, time.Now().Add(time.Hour))
//
//	// Every night at 3.
//	_, err = client.AddOrReplaceRecurringDefinition(ctx, c, "nightly-digest", SendDigest, DigestInput{}, "0 3 * * *", "Europe/Brussels")
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
	"github.com/xraph/shepherd/store"
	"github.com/xraph/shepherd/worker"
)

// Client submits jobs to a store.
type Client struct {
	store          store.Store
	extensions     *ext.Registry
	transitions    *worker.Transitions
	calc           recurring.ScheduleCalculator
	logger         *slog.Logger
	now            func() time.Time
	deleteAttempts int
}

// New creates a Client writing to s.
func New(s store.Store, opts ...Option) *Client {
	c := &Client{
		store:          s,
		calc:           recurring.NewCronCalculator(),
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		deleteAttempts: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transitions = worker.NewTransitions(s, c.extensions, c.logger)
	return c
}

// Enqueue creates a job that runs as soon as a worker is free.
func (c *Client) Enqueue(ctx context.Context, d job.Descriptor) (*job.Job, error) {
	j := job.NewWithID(id.NewJobID(), d, job.Enqueued().WithTime(c.now()))
	if err := c.transitions.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("shepherd/client: enqueue %s: %w", d.Key(), err)
	}
	c.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("target", d.Key()),
	)
	return j, nil
}

// Schedule creates a job that runs at or after at.
func (c *Client) Schedule(ctx context.Context, d job.Descriptor, at time.Time) (*job.Job, error) {
	j := job.NewWithID(id.NewJobID(), d, job.Scheduled(at, "scheduled by client").WithTime(c.now()))
	if err := c.transitions.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("shepherd/client: schedule %s: %w", d.Key(), err)
	}
	c.logger.Debug("job scheduled",
		slog.String("job_id", j.ID.String()),
		slog.String("target", d.Key()),
		slog.Time("at", at),
	)
	return j, nil
}

// Get returns a job by id.
func (c *Client) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// Delete moves a job to Deleted. A Processing job is interrupted by its
// server on the server's next pass. Deleting a job that is already Deleted
// is a no-op.
func (c *Client) Delete(ctx context.Context, jobID id.JobID, reason string) error {
	var lastErr error
	for range c.deleteAttempts {
		j, err := c.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("shepherd/client: delete %s: %w", jobID, err)
		}
		if j.StateName() == job.StateDeleted {
			return nil
		}

		err = c.transitions.Apply(ctx, j, job.Deleted(reason).WithTime(c.now()))
		if err == nil {
			c.logger.Debug("job deleted", slog.String("job_id", jobID.String()))
			return nil
		}
		if !errors.Is(err, shepherd.ErrConcurrentModification) {
			return fmt.Errorf("shepherd/client: delete %s: %w", jobID, err)
		}
		lastErr = err
	}
	return fmt.Errorf("shepherd/client: delete %s: %w", jobID, lastErr)
}

// Stats returns aggregate job counts.
func (c *Client) Stats(ctx context.Context) (store.JobStats, error) {
	return store.Stats(ctx, c.store)
}
