package caretaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/distribution"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/recurring"
	"github.com/xraph/shepherd/store"
	"github.com/xraph/shepherd/worker"
)

// Cluster is the caretaker's view of the leader election.
// *cluster.Monitor implements it.
type Cluster interface {
	ServerID() id.ServerID
	IsLeader() bool
	LiveServers() []*cluster.ServerHeartbeat
	Timeout() time.Duration
}

// Option configures a Caretaker.
type Option func(*Caretaker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Caretaker) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Caretaker) { c.now = now }
}

// WithScheduleCalculator replaces recurring.CronCalculator.
func WithScheduleCalculator(calc recurring.ScheduleCalculator) Option {
	return func(c *Caretaker) { c.calc = calc }
}

// WithExceptionHandler sets the function told about storage failures.
func WithExceptionHandler(fn func(error)) Option {
	return func(c *Caretaker) { c.onException = fn }
}

// Caretaker performs the maintenance pass of one server.
type Caretaker struct {
	cfg         shepherd.Config
	store       store.Store
	transitions *worker.Transitions
	performer   *worker.Performer
	steward     *worker.Steward
	strategy    *distribution.Strategy
	cluster     Cluster

	calc        recurring.ScheduleCalculator
	logger      *slog.Logger
	now         func() time.Time
	onException func(error)

	onboardMu    sync.Mutex
	onboarding   bool
	onboardAgain bool
}

// New creates a Caretaker.
func New(
	cfg shepherd.Config,
	s store.Store,
	transitions *worker.Transitions,
	performer *worker.Performer,
	steward *worker.Steward,
	strategy *distribution.Strategy,
	c Cluster,
	opts ...Option,
) *Caretaker {
	ct := &Caretaker{
		cfg:         cfg,
		store:       s,
		transitions: transitions,
		performer:   performer,
		steward:     steward,
		strategy:    strategy,
		cluster:     c,
		calc:        recurring.NewCronCalculator(),
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(ct)
	}
	return ct
}

// Cycle runs every task once, in order. A failing task does not stop the
// ones after it; it is retried on the next cycle. The returned error joins
// the failures.
func (c *Caretaker) Cycle(ctx context.Context) error {
	tasks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"onboard", c.Onboard},
		{"materialize_recurring", c.MaterializeRecurring},
		{"promote_scheduled", c.PromoteScheduled},
		{"recover_orphans", c.RecoverOrphans},
		{"retention", c.ApplyRetention},
		{"reconcile_in_flight", c.ReconcileInFlight},
	}

	var errs []error
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if err := task.fn(ctx); err != nil {
			c.report(task.name, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Caretaker) report(task string, err error) {
	switch {
	case errors.Is(err, shepherd.ErrConcurrentModification):
		c.logger.Debug("caretaker task lost a version race",
			slog.String("task", task),
			slog.String("error", err.Error()),
		)
	case errors.Is(err, shepherd.ErrStorageUnavailable):
		c.logger.Warn("caretaker task failed, storage unavailable",
			slog.String("task", task),
			slog.String("error", err.Error()),
		)
		if c.onException != nil {
			c.onException(err)
		}
	default:
		c.logger.Warn("caretaker task failed",
			slog.String("task", task),
			slog.String("error", err.Error()),
		)
	}
}

// pageSize is the batch size of the maintenance queries.
func (c *Caretaker) pageSize() int {
	return max(c.cfg.MaxWorkPageSize, 1)
}
