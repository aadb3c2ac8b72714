package client

import (
	"context"
	"time"

	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
)

// EnqueueDefinition enqueues a run of def with payload.
func EnqueueDefinition[T any](ctx context.Context, c *Client, def *job.Definition[T], payload T) (*job.Job, error) {
	d, err := def.Descriptor(payload)
	if err != nil {
		return nil, err
	}
	return c.Enqueue(ctx, d)
}

// ScheduleDefinition schedules a run of def with payload at at.
func ScheduleDefinition[T any](ctx context.Context, c *Client, def *job.Definition[T], payload T, at time.Time) (*job.Job, error) {
	d, err := def.Descriptor(payload)
	if err != nil {
		return nil, err
	}
	return c.Schedule(ctx, d, at)
}

// AddOrReplaceRecurringDefinition runs def with payload on schedule.
func AddOrReplaceRecurringDefinition[T any](
	ctx context.Context,
	c *Client,
	recurringID string,
	def *job.Definition[T],
	payload T,
	schedule, timezone string,
) (*recurring.RecurringJob, error) {
	d, err := def.Descriptor(payload)
	if err != nil {
		return nil, err
	}
	return c.AddOrReplaceRecurring(ctx, recurringID, d, schedule, timezone)
}
