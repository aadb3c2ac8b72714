package caretaker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
)

// PromoteScheduled enqueues every Scheduled job that is due.
func (c *Caretaker) PromoteScheduled(ctx context.Context) error {
	now := c.now()
	size := c.pageSize()
	for {
		jobs, err := c.store.ListScheduledBefore(ctx, now, job.FirstPage(size))
		if err != nil {
			return err
		}
		saved, err := c.transitions.ApplyAll(ctx, jobs, func(*job.Job) job.State {
			return job.Enqueued().WithTime(now)
		})
		if err != nil {
			return err
		}
		if len(jobs) < size || len(saved) == 0 {
			return nil
		}
	}
}

// RecoverOrphans fails and reschedules Processing jobs nobody is running:
// those whose owner is no longer among the live servers, and those owned
// by this server but absent from its steward, which happens to runs
// interrupted by a stop and a later restart. Only jobs that have not been
// touched for a whole eviction timeout are considered.
func (c *Caretaker) RecoverOrphans(ctx context.Context) error {
	servers := c.cluster.LiveServers()
	if len(servers) == 0 {
		// Not announced yet: nothing is known about the cluster.
		return nil
	}
	live := make(map[id.ServerID]bool, len(servers))
	for _, s := range servers {
		live[s.ID] = true
	}
	self := c.cluster.ServerID()
	inFlight := make(map[id.JobID]bool)
	for _, j := range c.steward.InFlight() {
		inFlight[j.ID] = true
	}

	now := c.now()
	horizon := now.Add(-c.cluster.Timeout())
	size := c.pageSize()
	for offset := 0; ; offset += size {
		jobs, err := c.store.ListUpdatedBefore(ctx, job.StateProcessing, horizon, job.Page{Offset: offset, Limit: size})
		if err != nil {
			return err
		}

		var orphans []*job.Job
		for _, j := range jobs {
			owner := j.State().ServerID
			if !live[owner] || (owner == self && !inFlight[j.ID]) {
				orphans = append(orphans, j)
			}
		}
		recovered, err := c.recover(ctx, orphans, self)
		if err != nil {
			return err
		}
		if len(jobs) < size {
			return nil
		}
		// Recovered jobs leave the Processing list.
		offset -= recovered
	}
}

func (c *Caretaker) recover(ctx context.Context, orphans []*job.Job, self id.ServerID) (int, error) {
	if len(orphans) == 0 {
		return 0, nil
	}
	now := c.now()
	failed, err := c.transitions.ApplyAll(ctx, orphans, func(j *job.Job) job.State {
		owner := j.State().ServerID
		if owner == self {
			return job.Failed("run abandoned", "no longer running on "+owner.String(), true).WithTime(now)
		}
		return job.Failed("server died", "orphaned by "+owner.String(), true).WithTime(now)
	})
	if err != nil && len(failed) == 0 {
		return 0, err
	}
	rescheduled, rerr := c.transitions.ApplyAll(ctx, failed, func(*job.Job) job.State {
		return job.Scheduled(now, "recovered orphaned job").WithTime(now)
	})
	if len(rescheduled) > 0 {
		c.logger.Info("orphaned jobs recovered", slog.Int("count", len(rescheduled)))
	}
	return len(failed), errors.Join(err, rerr)
}

// ApplyRetention moves old Succeeded jobs to Deleted and removes old
// Deleted jobs for good. Only the leader runs it.
func (c *Caretaker) ApplyRetention(ctx context.Context) error {
	if !c.cluster.IsLeader() {
		return nil
	}

	now := c.now()
	size := c.pageSize()
	for {
		jobs, err := c.store.ListUpdatedBefore(ctx, job.StateSucceeded, now.Add(-c.cfg.DeleteSucceededAfter), job.FirstPage(size))
		if err != nil {
			return err
		}
		saved, err := c.transitions.ApplyAll(ctx, jobs, func(*job.Job) job.State {
			return job.Deleted("retention").WithTime(now)
		})
		if err != nil {
			return err
		}
		if len(jobs) < size || len(saved) == 0 {
			break
		}
	}

	n, err := c.store.DeleteJobsUpdatedBefore(ctx, job.StateDeleted, now.Add(-c.cfg.PermanentlyDeleteAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		c.logger.Info("deleted jobs removed", slog.Int("count", n))
	}
	return nil
}

// ReconcileInFlight interrupts local runs whose job was deleted, removed or
// taken over by another server.
func (c *Caretaker) ReconcileInFlight(ctx context.Context) error {
	self := c.cluster.ServerID()
	for _, running := range c.steward.InFlight() {
		stored, err := c.store.GetJob(ctx, running.ID)
		if errors.Is(err, shepherd.ErrJobNotFound) {
			c.interrupt(running.ID, "job removed")
			continue
		}
		if err != nil {
			return err
		}

		switch s := stored.State(); {
		case s.Name == job.StateDeleted:
			c.interrupt(running.ID, "job deleted")
		case s.Name == job.StateProcessing && s.ServerID != self:
			c.interrupt(running.ID, "job claimed by "+s.ServerID.String())
		}
	}
	return nil
}

func (c *Caretaker) interrupt(jobID id.JobID, reason string) {
	if c.steward.Interrupt(jobID) {
		c.logger.Info("in-flight job interrupted",
			slog.String("job_id", jobID.String()),
			slog.String("reason", reason),
		)
	}
}
