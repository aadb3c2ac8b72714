package caretaker

import (
	"context"

	"github.com/xraph/shepherd/job"
)

// Onboard claims Enqueued jobs, oldest first, while workers are free and
// hands them to the performer. Calls that arrive while an onboarding is
// running coalesce into one more round.
func (c *Caretaker) Onboard(ctx context.Context) error {
	c.onboardMu.Lock()
	if c.onboarding {
		c.onboardAgain = true
		c.onboardMu.Unlock()
		return nil
	}
	c.onboarding = true
	c.onboardMu.Unlock()

	for {
		err := c.onboard(ctx)

		c.onboardMu.Lock()
		if err != nil || !c.onboardAgain {
			c.onboarding = false
			c.onboardAgain = false
			c.onboardMu.Unlock()
			return err
		}
		c.onboardAgain = false
		c.onboardMu.Unlock()
	}
}

func (c *Caretaker) onboard(ctx context.Context) error {
	for c.strategy.CanOnboardMore() {
		size := c.strategy.WorkPageSize()
		jobs, err := c.store.ListJobs(ctx, job.StateEnqueued, job.FirstPage(size))
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		claimed, err := c.performer.Claim(ctx, jobs)
		// Jobs claimed before a store failure are ours and must run.
		c.performer.Dispatch(ctx, claimed)
		if err != nil {
			return err
		}

		if len(jobs) < size {
			return nil
		}
	}
	return nil
}
