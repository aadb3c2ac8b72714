package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
	"github.com/xraph/shepherd/store"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.StateApplied          = (*MetricsExtension)(nil)
	_ ext.RecurringMaterialized = (*MetricsExtension)(nil)
	_ ext.LeadershipChanged     = (*MetricsExtension)(nil)
	_ ext.ServerFatal           = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for shepherd metrics.
const meterName = "github.com/xraph/shepherd/observability"

// MetricsExtension records system-wide lifecycle metrics with an OTel meter.
type MetricsExtension struct {
	Transitions  metric.Int64Counter
	Materialized metric.Int64Counter
	Leader       metric.Int64UpDownCounter
	Fatal        metric.Int64Counter

	meter metric.Meter

	mu    sync.RWMutex
	stats store.JobStats
	seen  bool
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On error the OTel API returns noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	transitions, _ := meter.Int64Counter("shepherd.job.transitions", //nolint:errcheck // noop fallback
		metric.WithDescription("Job states applied, by source and target state"),
		metric.WithUnit("{transition}"),
	)
	materialized, _ := meter.Int64Counter("shepherd.recurring.materialized", //nolint:errcheck // noop fallback
		metric.WithDescription("Jobs spawned by recurring jobs"),
		metric.WithUnit("{job}"),
	)
	leader, _ := meter.Int64UpDownCounter("shepherd.server.leader", //nolint:errcheck // noop fallback
		metric.WithDescription("1 while the local server leads the cluster"),
	)
	fatal, _ := meter.Int64Counter("shepherd.server.fatal", //nolint:errcheck // noop fallback
		metric.WithDescription("Fatal server stops"),
	)
	return &MetricsExtension{
		Transitions:  transitions,
		Materialized: materialized,
		Leader:       leader,
		Fatal:        fatal,
		meter:        meter,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── State hooks ─────────────────────────────────────

// OnStateApplied implements ext.StateApplied.
func (m *MetricsExtension) OnStateApplied(ctx context.Context, j *job.Job, from job.StateName) error {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(j.StateName())),
	))
	return nil
}

// OnRecurringMaterialized implements ext.RecurringMaterialized.
func (m *MetricsExtension) OnRecurringMaterialized(ctx context.Context, r *recurring.RecurringJob, _ *job.Job) error {
	m.Materialized.Add(ctx, 1, metric.WithAttributes(attribute.String("recurring_job_id", r.ID)))
	return nil
}

// ── Server hooks ────────────────────────────────────

// OnLeadershipChanged implements ext.LeadershipChanged.
func (m *MetricsExtension) OnLeadershipChanged(ctx context.Context, _ id.ServerID, isLeader bool) error {
	delta := int64(-1)
	if isLeader {
		delta = 1
	}
	m.Leader.Add(ctx, delta)
	return nil
}

// OnServerFatal implements ext.ServerFatal.
func (m *MetricsExtension) OnServerFatal(ctx context.Context, _ id.ServerID, _ error) error {
	m.Fatal.Add(ctx, 1)
	return nil
}

// ── Job statistics ──────────────────────────────────

// ObserveStats subscribes to n and reports the latest counts as the
// shepherd.jobs gauge (attribute state) plus shepherd.recurring_jobs and
// shepherd.servers. It returns a function that unsubscribes.
func (m *MetricsExtension) ObserveStats(n *store.Notifier) (func(), error) {
	jobs, err := m.meter.Int64ObservableGauge("shepherd.jobs",
		metric.WithDescription("Jobs per state"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}
	recurringJobs, err := m.meter.Int64ObservableGauge("shepherd.recurring_jobs",
		metric.WithDescription("Recurring job templates"),
	)
	if err != nil {
		return nil, err
	}
	servers, err := m.meter.Int64ObservableGauge("shepherd.servers",
		metric.WithDescription("Announced servers"),
	)
	if err != nil {
		return nil, err
	}

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m.mu.RLock()
		stats, seen := m.stats, m.seen
		m.mu.RUnlock()
		if !seen {
			return nil
		}
		counts := map[job.StateName]int64{
			job.StateScheduled:  stats.Scheduled,
			job.StateEnqueued:   stats.Enqueued,
			job.StateProcessing: stats.Processing,
			job.StateSucceeded:  stats.Succeeded,
			job.StateFailed:     stats.Failed,
			job.StateDeleted:    stats.Deleted,
		}
		for state, n := range counts {
			o.ObserveInt64(jobs, n, metric.WithAttributes(attribute.String("state", string(state))))
		}
		o.ObserveInt64(recurringJobs, stats.RecurringJobs)
		o.ObserveInt64(servers, int64(stats.Servers))
		return nil
	}, jobs, recurringJobs, servers)
	if err != nil {
		return nil, err
	}

	unsubscribe := n.Subscribe(m.record)
	return func() {
		unsubscribe()
		_ = reg.Unregister() //nolint:errcheck // best effort
	}, nil
}

func (m *MetricsExtension) record(stats store.JobStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = stats
	m.seen = true
}
