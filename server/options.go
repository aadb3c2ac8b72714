package server

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/backoff"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/distribution"
	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/job"
	mw "github.com/xraph/shepherd/middleware"
	"github.com/xraph/shepherd/recurring"
)

// Option configures a Server.
type Option func(*Server)

// WithConfig replaces the whole configuration.
func WithConfig(cfg shepherd.Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithPollInterval sets the delay between two heartbeats and between two
// caretaker passes.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) { s.cfg.PollInterval = d }
}

// WithWorkerCount fixes the size of the worker pool.
func WithWorkerCount(n int) Option {
	return func(s *Server) { s.cfg.WorkerCount = n }
}

// WithServerName sets the name reported in the heartbeat.
func WithServerName(name string) Option {
	return func(s *Server) { s.cfg.ServerName = name }
}

// WithLogger sets the logger of the server and of every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRunner adds a runner. Runners are consulted in the order they were
// added, after the definitions registered with Register.
func WithRunner(r job.Runner) Option {
	return func(s *Server) { s.extraRunners = append(s.extraRunners, r) }
}

// WithExtension registers an extension.
func WithExtension(e ext.Extension) Option {
	return func(s *Server) { s.extraExtensions = append(s.extraExtensions, e) }
}

// WithMiddleware adds middleware inside the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(s *Server) { s.mws = append(s.mws, m) }
}

// WithRetryPolicy replaces backoff.DefaultRetryPolicy.
func WithRetryPolicy(p *backoff.RetryPolicy) Option {
	return func(s *Server) { s.retry = p }
}

// WithPoolSizePolicy sizes the worker pool when WorkerCount is zero.
// Defaults to distribution.DefaultHostResources.
func WithPoolSizePolicy(p distribution.PoolSizePolicy) Option {
	return func(s *Server) { s.poolPolicy = p }
}

// WithScheduleCalculator replaces recurring.CronCalculator.
func WithScheduleCalculator(calc recurring.ScheduleCalculator) Option {
	return func(s *Server) { s.calc = calc }
}

// WithTracerProvider sets a custom OTel TracerProvider.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the metrics
// middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Server) { s.meterProvider = mp }
}

// WithAutoMigrate makes Start run the store's migrations first.
func WithAutoMigrate() Option {
	return func(s *Server) { s.autoMigrate = true }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithResourceMetrics replaces the host sampler reported in heartbeats.
func WithResourceMetrics(collect func(context.Context) cluster.ResourceMetrics) Option {
	return func(s *Server) { s.collect = collect }
}
