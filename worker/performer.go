package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/backoff"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/middleware"
)

// Performer claims jobs for this server and runs them to a final state.
type Performer struct {
	serverID    id.ServerID
	transitions *Transitions
	runners     *job.Runners
	steward     *Steward
	pool        *Pool
	policy      *backoff.RetryPolicy
	mw          middleware.Middleware
	logger      *slog.Logger
	now         func() time.Time

	stopOnMissingRunner bool
	onFatal             func(error)
	onException         func(error)
}

// PerformerOption configures a Performer.
type PerformerOption func(*Performer)

// WithMiddleware sets the chain every run goes through.
func WithMiddleware(mws ...middleware.Middleware) PerformerOption {
	return func(p *Performer) { p.mw = middleware.Chain(mws...) }
}

// WithRetryPolicy replaces backoff.DefaultRetryPolicy.
func WithRetryPolicy(policy *backoff.RetryPolicy) PerformerOption {
	return func(p *Performer) { p.policy = policy }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PerformerOption {
	return func(p *Performer) { p.logger = l }
}

// WithClock replaces time.Now for state timestamps.
func WithClock(now func() time.Time) PerformerOption {
	return func(p *Performer) { p.now = now }
}

// WithStopOnMissingRunner controls whether a job no runner can run is
// reported to the fatal handler. It is on by default.
func WithStopOnMissingRunner(stop bool) PerformerOption {
	return func(p *Performer) { p.stopOnMissingRunner = stop }
}

// WithFatalHandler sets the function told about configuration errors that
// should stop the server.
func WithFatalHandler(fn func(error)) PerformerOption {
	return func(p *Performer) { p.onFatal = fn }
}

// WithExceptionHandler sets the function told about storage failures.
func WithExceptionHandler(fn func(error)) PerformerOption {
	return func(p *Performer) { p.onException = fn }
}

// NewPerformer creates a Performer for serverID. Runs are tracked by
// steward and executed on pool.
func NewPerformer(
	serverID id.ServerID,
	transitions *Transitions,
	runners *job.Runners,
	steward *Steward,
	pool *Pool,
	opts ...PerformerOption,
) *Performer {
	p := &Performer{
		serverID:            serverID,
		transitions:         transitions,
		runners:             runners,
		steward:             steward,
		pool:                pool,
		policy:              backoff.DefaultRetryPolicy(),
		mw:                  middleware.Chain(),
		logger:              slog.Default(),
		now:                 func() time.Time { return time.Now().UTC() },
		stopOnMissingRunner: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Claim moves Enqueued jobs to Processing on this server. It returns the
// jobs this server won; the others were claimed or changed elsewhere.
func (p *Performer) Claim(ctx context.Context, jobs []*job.Job) ([]*job.Job, error) {
	now := p.now()
	return p.transitions.ApplyAll(ctx, jobs, func(*job.Job) job.State {
		return job.Processing(p.serverID).WithTime(now)
	})
}

// Dispatch hands claimed jobs to the pool. Each job occupies a worker from
// the moment Dispatch returns until its outcome is recorded.
func (p *Performer) Dispatch(ctx context.Context, jobs []*job.Job) {
	for _, j := range jobs {
		runCtx, cancel := context.WithCancelCause(ctx)
		p.steward.StartProcessing(j, cancel)
		p.pool.Go(func() {
			defer cancel(nil)
			p.perform(ctx, runCtx, j)
		})
	}
}

// Perform runs one claimed job on the calling goroutine.
func (p *Performer) Perform(ctx context.Context, j *job.Job) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	p.steward.StartProcessing(j, cancel)
	p.perform(ctx, runCtx, j)
}

func (p *Performer) perform(ctx, runCtx context.Context, j *job.Job) {
	defer p.steward.StopProcessing(j)

	runner, err := p.runners.Resolve(j.Descriptor)
	if err != nil {
		p.missingRunner(ctx, j, err)
		return
	}

	extensions := p.transitions.Extensions()
	extensions.EmitJobProcessing(ctx, j)

	start := time.Now()
	runErr := p.mw(runCtx, j, func(ctx context.Context) error {
		return runner.Run(ctx, j.Descriptor)
	})
	elapsed := time.Since(start)

	if runCtx.Err() != nil && (errors.Is(context.Cause(runCtx), ErrInterrupted) || ctx.Err() != nil) {
		p.logger.Info("job interrupted",
			slog.String("job_id", j.ID.String()),
			slog.String("target", j.Descriptor.Key()),
		)
		return
	}

	extensions.EmitJobProcessed(ctx, j, elapsed, runErr)

	if runErr == nil {
		p.succeed(ctx, j)
		return
	}
	p.fail(ctx, j, runErr)
}

func (p *Performer) succeed(ctx context.Context, j *job.Job) {
	if err := p.transitions.Apply(ctx, j, j.SuccessState(p.now())); err != nil {
		p.saveFailed(j, job.StateSucceeded, err)
	}
}

func (p *Performer) fail(ctx context.Context, j *job.Job, runErr error) {
	now := p.now()
	failures := j.Failures() + 1
	retryAt, retry := p.policy.Decide(j, failures)

	failed := job.Failed(runErr.Error(), causeOf(runErr), retry).WithTime(now)
	if err := p.transitions.Apply(ctx, j, failed); err != nil {
		p.saveFailed(j, job.StateFailed, err)
		return
	}

	var next job.State
	if retry {
		next = job.Scheduled(retryAt, fmt.Sprintf("retry %d after failure", failures)).WithTime(now)
		p.logger.Warn("job failed, retry scheduled",
			slog.String("job_id", j.ID.String()),
			slog.String("target", j.Descriptor.Key()),
			slog.Int("failures", failures),
			slog.Time("retry_at", retryAt),
			slog.String("error", runErr.Error()),
		)
	} else {
		next = job.Deleted("retries exhausted").WithTime(now)
		p.logger.Warn("job failed, retries exhausted",
			slog.String("job_id", j.ID.String()),
			slog.String("target", j.Descriptor.Key()),
			slog.Int("failures", failures),
			slog.String("error", runErr.Error()),
		)
	}
	if err := p.transitions.Apply(ctx, j, next); err != nil {
		p.saveFailed(j, next.Name, err)
	}
}

// missingRunner fails j without retry. No runner means the deployment is
// misconfigured, so the server is told to stop unless that was disabled.
func (p *Performer) missingRunner(ctx context.Context, j *job.Job, err error) {
	p.logger.Error("no runner for job",
		slog.String("job_id", j.ID.String()),
		slog.String("target", j.Descriptor.Key()),
	)
	failed := job.Failed(err.Error(), fmt.Sprintf("%T", err), false).WithTime(p.now())
	if saveErr := p.transitions.Apply(ctx, j, failed); saveErr != nil {
		p.saveFailed(j, job.StateFailed, saveErr)
	}
	if p.stopOnMissingRunner && p.onFatal != nil {
		p.onFatal(err)
	}
}

func (p *Performer) saveFailed(j *job.Job, state job.StateName, err error) {
	if errors.Is(err, shepherd.ErrConcurrentModification) {
		p.logger.Debug("job changed while running, outcome dropped",
			slog.String("job_id", j.ID.String()),
			slog.String("state", string(state)),
		)
		return
	}
	p.logger.Warn("failed to save job outcome",
		slog.String("job_id", j.ID.String()),
		slog.String("state", string(state)),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, shepherd.ErrStorageUnavailable) && p.onException != nil {
		p.onException(err)
	}
}

// causeOf names what made a run fail: the stack of a panic, otherwise the
// error's type.
func causeOf(err error) string {
	var pe *middleware.PanicError
	if errors.As(err, &pe) {
		return pe.Stack
	}
	return fmt.Sprintf("%T", err)
}
