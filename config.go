package shepherd

import (
	"fmt"
	"os"
	"time"
)

// Config holds configuration for a background job server.
type Config struct {
	// ServerName is a human readable name reported in the heartbeat.
	// Defaults to the host name.
	ServerName string

	// PollInterval is the delay between two caretaker passes and between two
	// heartbeats.
	PollInterval time.Duration

	// WorkerCount is the size of the worker pool. Zero derives it from the
	// host's resources.
	WorkerCount int

	// ServerTimeoutMultiplicand multiplied by PollInterval gives the
	// heartbeat eviction timeout. Must be at least 4.
	ServerTimeoutMultiplicand int

	// MaxWorkPageSize caps how many jobs a single onboarding fetch claims.
	MaxWorkPageSize int

	// DeleteSucceededAfter is how long succeeded jobs are kept before they
	// are moved to Deleted.
	DeleteSucceededAfter time.Duration

	// PermanentlyDeleteAfter is how long deleted jobs are kept before they
	// are removed from the store.
	PermanentlyDeleteAfter time.Duration

	// InterruptJobsAwaitDuration is the grace period in-flight jobs get on
	// stop before they are abandoned.
	InterruptJobsAwaitDuration time.Duration

	// MaxElectionResets is how many times the server resets itself after its
	// heartbeat was evicted. One more is fatal.
	MaxElectionResets int

	// MaxExceptions within ExceptionWindow escalates to a fatal stop.
	MaxExceptions   int
	ExceptionWindow time.Duration

	// RecurringCatchUp bounds how far back recurring schedules are
	// evaluated for a missed run.
	RecurringCatchUp time.Duration

	// StopOnMissingRunner makes a job without a matching runner fatal for
	// the server, in addition to failing the job.
	StopOnMissingRunner bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	name, err := os.Hostname()
	if err != nil {
		name = "shepherd"
	}

	return Config{
		ServerName:                 name,
		PollInterval:               15 * time.Second,
		ServerTimeoutMultiplicand:  4,
		MaxWorkPageSize:            100,
		DeleteSucceededAfter:       36 * time.Hour,
		PermanentlyDeleteAfter:     72 * time.Hour,
		InterruptJobsAwaitDuration: 10 * time.Second,
		MaxElectionResets:          3,
		MaxExceptions:              5,
		ExceptionWindow:            time.Minute,
		RecurringCatchUp:           24 * time.Hour,
		StopOnMissingRunner:        true,
	}
}

// ServerTimeout is the heartbeat eviction timeout.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.ServerTimeoutMultiplicand) * c.PollInterval
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.WorkerCount < 0:
		return fmt.Errorf("%w: worker count must not be negative", ErrInvalidConfig)
	case c.ServerTimeoutMultiplicand < 4:
		return fmt.Errorf("%w: server timeout multiplicand must be at least 4, got %d", ErrInvalidConfig, c.ServerTimeoutMultiplicand)
	case c.MaxWorkPageSize <= 0:
		return fmt.Errorf("%w: max work page size must be positive", ErrInvalidConfig)
	case c.DeleteSucceededAfter <= 0 || c.PermanentlyDeleteAfter <= 0:
		return fmt.Errorf("%w: retention windows must be positive", ErrInvalidConfig)
	case c.MaxElectionResets < 0:
		return fmt.Errorf("%w: max election resets must not be negative", ErrInvalidConfig)
	case c.MaxExceptions <= 0 || c.ExceptionWindow <= 0:
		return fmt.Errorf("%w: exception threshold and window must be positive", ErrInvalidConfig)
	}
	return nil
}
