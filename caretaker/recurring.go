package caretaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
)

// MaterializeRecurring creates the Scheduled jobs of every recurring job
// that is due: its latest missed instant and every instant of the next
// poll interval. Nothing is created while a job with the template's
// signature is still active. Instances carry a deterministic id, so a
// concurrent insert of the same instant on another server loses the version
// race. A failing template does not hold back the others.
func (c *Caretaker) MaterializeRecurring(ctx context.Context) error {
	list, err := c.store.ListRecurringJobs(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	upTo := now.Add(c.cfg.PollInterval)
	var errs []error
	for _, r := range list {
		from := now.Add(-c.cfg.RecurringCatchUp)
		if r.CreatedAt.After(from) {
			from = r.CreatedAt
		}

		due, err := recurring.Due(c.calc, r, from, now, upTo)
		if err != nil {
			c.logger.Warn("skipping recurring job with invalid schedule",
				slog.String("recurring_job_id", r.ID),
				slog.String("schedule", r.Schedule),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, at := range due {
			if err := c.materialize(ctx, r, at); err != nil {
				errs = append(errs, fmt.Errorf("recurring job %s: %w", r.ID, err))
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Caretaker) materialize(ctx context.Context, r *recurring.RecurringJob, at time.Time) error {
	exists, err := c.store.ExistsForSignature(ctx, r.Signature(), job.ActiveStates...)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	j := r.NewInstance(at, c.now())
	if err := c.transitions.Create(ctx, j); err != nil {
		if errors.Is(err, shepherd.ErrConcurrentModification) {
			c.logger.Debug("recurring instance already exists",
				slog.String("recurring_job_id", r.ID),
				slog.Time("at", at),
			)
			return nil
		}
		return err
	}

	c.transitions.Extensions().EmitRecurringMaterialized(ctx, r, j)
	c.logger.Debug("recurring job materialized",
		slog.String("recurring_job_id", r.ID),
		slog.String("job_id", j.ID.String()),
		slog.Time("at", at),
	)
	return nil
}
