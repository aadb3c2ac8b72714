package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/backoff"
	"github.com/xraph/shepherd/caretaker"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/distribution"
	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/internal/loop"
	"github.com/xraph/shepherd/job"
	mw "github.com/xraph/shepherd/middleware"
	"github.com/xraph/shepherd/observability"
	"github.com/xraph/shepherd/recurring"
	"github.com/xraph/shepherd/store"
	"github.com/xraph/shepherd/worker"
)

// instrumentationName is the OTel scope of the server's tracer and meter.
const instrumentationName = "github.com/xraph/shepherd"

type lifecycle int

const (
	stateStopped lifecycle = iota
	stateRunning
	statePaused
	stateStopping
)

func (l lifecycle) String() string {
	switch l {
	case stateRunning:
		return "running"
	case statePaused:
		return "paused"
	case stateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Server is one background job server.
type Server struct {
	id     id.ServerID
	cfg    shepherd.Config
	logger *slog.Logger
	now    func() time.Time

	// Set by options, consumed by New.
	extraRunners    []job.Runner
	extraExtensions []ext.Extension
	mws             []mw.Middleware
	retry           *backoff.RetryPolicy
	poolPolicy      distribution.PoolSizePolicy
	calc            recurring.ScheduleCalculator
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
	collect         func(context.Context) cluster.ResourceMetrics
	autoMigrate     bool

	store      store.Store
	notifier   *store.Notifier
	extensions *ext.Registry
	metricsExt *observability.MetricsExtension
	registry   *job.Registry
	runners    *job.Runners
	monitor    *cluster.Monitor
	steward    *worker.Steward
	pool       *worker.Pool
	performer  *worker.Performer
	caretaker  *caretaker.Caretaker

	// mu guards the lifecycle. Store calls are never made while holding it.
	mu            sync.Mutex
	state         lifecycle
	runCtx        context.Context
	cancel        context.CancelFunc
	monitorLoop   *loop.Loop
	caretakerLoop *loop.Loop
	unobserve     func()
	stopped       chan struct{}

	running atomic.Bool
	failing atomic.Bool

	excMu      sync.Mutex
	exceptions []time.Time
}

// New creates a stopped server processing jobs from st.
func New(st store.Store, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, shepherd.ErrNoStore
	}

	s := &Server{
		id:       id.NewServerID(),
		cfg:      shepherd.DefaultConfig(),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		registry: job.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	s.extensions = ext.NewRegistry(s.logger)
	if s.meterProvider != nil {
		s.metricsExt = observability.NewMetricsExtensionWithMeter(s.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		s.metricsExt = observability.NewMetricsExtension()
	}
	s.extensions.Register(s.metricsExt)
	for _, e := range s.extraExtensions {
		s.extensions.Register(e)
	}

	s.runners = job.NewRunners(append([]job.Runner{s.registry}, s.extraRunners...)...)

	poolSize := s.poolSize()
	s.notifier = store.NewNotifier(st, store.WithNotifierLogger(s.logger))
	s.store = store.Observe(st, s.notifier)
	s.steward = worker.NewSteward(s.logger)
	s.pool = worker.NewPool(poolSize)

	monitorOpts := []cluster.MonitorOption{
		cluster.WithLogger(s.logger),
		cluster.WithClock(s.now),
		cluster.WithTimeoutMultiplicand(s.cfg.ServerTimeoutMultiplicand),
		cluster.WithMaxResets(s.cfg.MaxElectionResets),
		cluster.WithRunning(s.running.Load),
		cluster.WithHooks(cluster.Hooks{
			OnLeadershipChanged: s.leadershipChanged,
			OnPauseRequested:    s.pauseRequested,
			OnException:         s.exception,
			OnFatal:             s.fatal,
		}),
	}
	if s.collect != nil {
		monitorOpts = append(monitorOpts, cluster.WithMetrics(s.collect))
	}
	s.monitor = cluster.NewMonitor(s.store, cluster.ServerHeartbeat{
		ID:             s.id,
		Name:           s.cfg.ServerName,
		WorkerPoolSize: poolSize,
		PollInterval:   s.cfg.PollInterval,
	}, monitorOpts...)

	transitions := worker.NewTransitions(s.store, s.extensions, s.logger)
	s.performer = worker.NewPerformer(s.id, transitions, s.runners, s.steward, s.pool,
		worker.WithMiddleware(s.middleware()...),
		worker.WithRetryPolicy(s.retryPolicy()),
		worker.WithLogger(s.logger),
		worker.WithClock(s.now),
		worker.WithStopOnMissingRunner(s.cfg.StopOnMissingRunner),
		worker.WithFatalHandler(s.fatal),
		worker.WithExceptionHandler(s.exception),
	)

	caretakerOpts := []caretaker.Option{
		caretaker.WithLogger(s.logger),
		caretaker.WithClock(s.now),
		caretaker.WithExceptionHandler(s.exception),
	}
	if s.calc != nil {
		caretakerOpts = append(caretakerOpts, caretaker.WithScheduleCalculator(s.calc))
	}
	strategy := distribution.New(poolSize, s.cfg.MaxWorkPageSize, s.steward)
	s.caretaker = caretaker.New(s.cfg, s.store, transitions, s.performer, s.steward, strategy, s.monitor, caretakerOpts...)
	s.steward.OnIdle(s.onIdle)

	return s, nil
}

// Register adds a typed job definition to the server's runners.
func Register[T any](s *Server, def *job.Definition[T]) {
	job.RegisterDefinition(s.registry, def)
}

// ID returns the server id used in heartbeats and job ownership.
func (s *Server) ID() id.ServerID { return s.id }

// Config returns the validated configuration.
func (s *Server) Config() shepherd.Config { return s.cfg }

// Extensions returns the extension registry.
func (s *Server) Extensions() *ext.Registry { return s.extensions }

// Start announces the server and begins processing. Starting a paused
// server resumes it.
func (s *Server) Start(ctx context.Context) error {
	if s.autoMigrate {
		if err := s.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", shepherd.ErrMigrationFailed, err)
		}
	}

	s.mu.Lock()
	for s.state == stateStopping {
		done := s.stopped
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}

	switch s.state {
	case stateRunning:
		s.mu.Unlock()
		return nil
	case statePaused:
		s.resumeLocked()
		s.mu.Unlock()
		return nil
	}

	s.failing.Store(false)
	s.excMu.Lock()
	s.exceptions = nil
	s.excMu.Unlock()

	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.state = stateRunning
	s.running.Store(true)
	s.monitor.Restart()
	s.monitorLoop = loop.Start(s.runCtx, "leader-election", s.cfg.PollInterval, s.electionCycle, s.logger)
	s.caretakerLoop = loop.Start(s.runCtx, "caretaker", s.cfg.PollInterval, s.caretakerCycle, s.logger)

	unobserve, err := s.metricsExt.ObserveStats(s.notifier)
	if err != nil {
		s.logger.Warn("job statistics gauges unavailable", slog.String("error", err.Error()))
	}
	s.unobserve = unobserve
	s.mu.Unlock()

	s.logger.Info("background job server started",
		slog.String("server_id", s.id.String()),
		slog.String("name", s.cfg.ServerName),
		slog.Int("worker_pool_size", s.pool.Size()),
		slog.Duration("poll_interval", s.cfg.PollInterval),
	)
	s.extensions.EmitServerStarted(ctx, s.id)
	return nil
}

// Pause stops taking new work. Running jobs finish and the heartbeat stays
// alive.
func (s *Server) Pause() error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = statePaused
	s.running.Store(false)
	l := s.caretakerLoop
	s.caretakerLoop = nil
	s.mu.Unlock()

	if l != nil {
		l.Stop()
	}
	s.logger.Info("background job server paused", slog.String("server_id", s.id.String()))
	return nil
}

// Resume undoes Pause. It returns ErrServerStopped when the server is not
// started.
func (s *Server) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case statePaused:
		s.resumeLocked()
		return nil
	case stateRunning:
		return nil
	default:
		return shepherd.ErrServerStopped
	}
}

// resumeLocked must be called with mu held.
func (s *Server) resumeLocked() {
	s.state = stateRunning
	s.running.Store(true)
	s.caretakerLoop = loop.Start(s.runCtx, "caretaker", s.cfg.PollInterval, s.caretakerCycle, s.logger)
	s.logger.Info("background job server resumed", slog.String("server_id", s.id.String()))
}

// Stop shuts the server down. In-flight jobs are interrupted and get
// Config.InterruptJobsAwaitDuration to return; the heartbeat is removed
// last. Concurrent calls wait for the first one.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateStopped:
		s.mu.Unlock()
		return nil
	case stateStopping:
		done := s.stopped
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.state = stateStopping
	s.running.Store(false)
	s.stopped = make(chan struct{})
	done := s.stopped
	caretakerLoop, monitorLoop := s.caretakerLoop, s.monitorLoop
	cancel, unobserve := s.cancel, s.unobserve
	s.caretakerLoop, s.monitorLoop, s.unobserve = nil, nil, nil
	s.mu.Unlock()

	if caretakerLoop != nil {
		caretakerLoop.Stop()
	}
	if monitorLoop != nil {
		monitorLoop.Stop()
	}
	cancel()

	if n := s.steward.InterruptAll(); n > 0 {
		s.logger.Info("interrupted in-flight jobs", slog.Int("count", n))
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, s.cfg.InterruptJobsAwaitDuration)
	if err := s.pool.Wait(waitCtx); err != nil {
		s.logger.Warn("abandoning jobs that did not return in time",
			slog.Int("count", s.steward.Occupied()),
			slog.Duration("waited", s.cfg.InterruptJobsAwaitDuration),
		)
	}
	cancelWait()

	if unobserve != nil {
		unobserve()
	}
	err := s.monitor.Stop(ctx)

	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
	close(done)

	s.logger.Info("background job server stopped", slog.String("server_id", s.id.String()))
	s.extensions.EmitServerStopped(context.WithoutCancel(ctx), s.id)
	return err
}

// Status is a snapshot of the server as its peers see it.
type Status struct {
	ID             id.ServerID
	Name           string
	State          string
	WorkerPoolSize int
	PollInterval   time.Duration
	FirstHeartbeat time.Time
	LastHeartbeat  time.Time
	Running        bool
	Leader         bool
	Occupied       int
	Metrics        cluster.ResourceMetrics
}

// Status returns the current status.
func (s *Server) Status() Status {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	hb := s.monitor.Heartbeat()
	return Status{
		ID:             s.id,
		Name:           hb.Name,
		State:          state.String(),
		WorkerPoolSize: hb.WorkerPoolSize,
		PollInterval:   hb.PollInterval,
		FirstHeartbeat: hb.FirstHeartbeat,
		LastHeartbeat:  hb.LastHeartbeat,
		Running:        state == stateRunning,
		Leader:         s.monitor.IsLeader(),
		Occupied:       s.steward.Occupied(),
		Metrics:        hb.Metrics,
	}
}

func (s *Server) electionCycle(ctx context.Context) {
	wasAnnounced := s.monitor.IsAnnounced()
	if err := s.monitor.Cycle(ctx); err != nil {
		return
	}
	// Work need not wait a poll interval after the first announce.
	if !wasAnnounced {
		s.mu.Lock()
		if s.caretakerLoop != nil {
			s.caretakerLoop.Trigger()
		}
		s.mu.Unlock()
	}
}

func (s *Server) caretakerCycle(ctx context.Context) {
	if !s.monitor.IsAnnounced() {
		return
	}
	if err := s.caretaker.Cycle(ctx); err != nil && ctx.Err() == nil {
		s.logger.Debug("caretaker cycle incomplete", slog.String("error", err.Error()))
	}
}

// onIdle onboards new work as soon as a worker is released.
func (s *Server) onIdle() {
	s.mu.Lock()
	ctx, running := s.runCtx, s.state == stateRunning
	s.mu.Unlock()
	if !running || !s.monitor.IsAnnounced() {
		return
	}
	if err := s.caretaker.Onboard(ctx); err != nil && ctx.Err() == nil {
		s.logger.Debug("onboarding on idle worker failed", slog.String("error", err.Error()))
	}
}

func (s *Server) leadershipChanged(isLeader bool, _ id.ServerID) {
	s.extensions.EmitLeadershipChanged(context.Background(), s.id, isLeader)
}

func (s *Server) pauseRequested() {
	if err := s.Pause(); err != nil && !errors.Is(err, shepherd.ErrServerStopped) {
		s.logger.Warn("pause requested by store failed", slog.String("error", err.Error()))
	}
}

func (s *Server) poolSize() int {
	ctx := context.Background()
	if s.cfg.WorkerCount > 0 {
		return distribution.Fixed(s.cfg.WorkerCount).PoolSize(ctx)
	}
	policy := s.poolPolicy
	if policy == nil {
		h := distribution.DefaultHostResources()
		h.Logger = s.logger
		policy = h
	}
	return policy.PoolSize(ctx)
}

func (s *Server) retryPolicy() *backoff.RetryPolicy {
	policy := backoff.DefaultRetryPolicy()
	if s.retry != nil {
		p := *s.retry
		policy = &p
	}
	if policy.Overrides == nil {
		policy.Overrides = s.runners
	}
	if policy.Now == nil {
		policy.Now = s.now
	}
	return policy
}

// middleware builds the default chain: recover, tracing, metrics, logging
// and timeout, followed by the middleware from WithMiddleware.
func (s *Server) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if s.tracerProvider != nil {
		tracing = mw.TracingWithTracer(s.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if s.meterProvider != nil {
		metrics = mw.MetricsWithMeter(s.meterProvider.Meter(instrumentationName))
	}

	mws := []mw.Middleware{
		mw.Recover(s.logger),
		tracing,
		metrics,
		mw.Logging(s.logger),
		mw.Timeout(s.runners, 0, s.logger),
	}
	return append(mws, s.mws...)
}
