package backoff

import (
	"time"

	"github.com/xraph/shepherd/job"
)

// DefaultMaxRetries is the retry budget of DefaultRetryPolicy.
const DefaultMaxRetries = 10

// RetryPolicy decides what happens to a job after a failed run.
type RetryPolicy struct {
	// MaxRetries is how many times a job is retried before it is deleted.
	MaxRetries int

	// Strategy computes the delay of each retry.
	Strategy Strategy

	// Overrides supplies per-target retry budgets. A MaxRetries of zero or
	// more in the returned options replaces the policy default.
	Overrides job.OptionsProvider

	// Now replaces time.Now.
	Now func() time.Time
}

// DefaultRetryPolicy retries ten times with DefaultStrategy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxRetries: DefaultMaxRetries, Strategy: DefaultStrategy()}
}

// Decide returns when j should run again after its failures-th failure. It
// returns false once the retry budget is exhausted.
func (p *RetryPolicy) Decide(j *job.Job, failures int) (time.Time, bool) {
	if failures > p.budget(j.Descriptor) {
		return time.Time{}, false
	}
	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now()
	}
	strategy := p.Strategy
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	return now.Add(strategy.Delay(failures)), true
}

// budget returns the retry budget that applies to d.
func (p *RetryPolicy) budget(d job.Descriptor) int {
	if p.Overrides != nil {
		if opts, ok := p.Overrides.Options(d); ok && opts.MaxRetries >= 0 {
			return opts.MaxRetries
		}
	}
	return p.MaxRetries
}
