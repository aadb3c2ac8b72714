package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/shepherd/job"
)

// meterName is the instrumentation scope name for shepherd metrics.
const meterName = "github.com/xraph/shepherd"

// Run outcomes reported in the status attribute.
const (
	statusOK          = "ok"
	statusError       = "error"
	statusInterrupted = "interrupted"
)

// Metrics returns middleware that records per-run metrics using the global
// OTel MeterProvider. If no MeterProvider is configured, noop instruments
// are used.
//
// Instruments:
//   - shepherd.job.duration (Float64Histogram): run time in seconds
//   - shepherd.job.runs (Int64Counter): total runs
//
// Both carry the attributes target, status ("ok", "error" or
// "interrupted") and retry (whether the job failed before).
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"shepherd.job.duration",
		metric.WithDescription("Duration of job runs in seconds"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"shepherd.job.runs",
		metric.WithDescription("Total number of job runs"),
		metric.WithUnit("{run}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("target", j.Descriptor.Key()),
			attribute.String("status", runStatus(ctx, err)),
			attribute.Bool("retry", j.Failures() > 0),
		)
		duration.Record(ctx, elapsed, attrs)
		runs.Add(ctx, 1, attrs)

		return err
	}
}

func runStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return statusInterrupted
	default:
		return statusError
	}
}
