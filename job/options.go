package job

import "time"

// Options configures per-definition behavior.
type Options struct {
	// MaxRetries overrides the retry policy's attempt budget. Negative means
	// the policy default applies.
	MaxRetries int

	// Timeout is the maximum duration a run may take before it is cancelled.
	// Zero means no limit.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: -1,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
