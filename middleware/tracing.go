package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/shepherd/job"
)

// tracerName is the instrumentation scope name for shepherd tracing.
const tracerName = "github.com/xraph/shepherd"

// Tracing returns middleware that wraps every run in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is
// used and this middleware becomes a pass-through.
//
// Span attributes: shepherd.job.id, shepherd.job.target,
// shepherd.job.failures, shepherd.job.version, shepherd.server.id and,
// for recurring instances, shepherd.job.recurring_id.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("shepherd.job.id", j.ID.String()),
			attribute.String("shepherd.job.target", j.Descriptor.Key()),
			attribute.Int("shepherd.job.failures", j.Failures()),
			attribute.Int64("shepherd.job.version", int64(j.Version)),
		}
		if st := j.State(); st.Name == job.StateProcessing {
			attrs = append(attrs, attribute.String("shepherd.server.id", st.ServerID.String()))
		}
		if j.RecurringJobID != "" {
			attrs = append(attrs, attribute.String("shepherd.job.recurring_id", j.RecurringJobID))
		}

		ctx, span := tracer.Start(ctx, "shepherd.job.run",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		switch runStatus(ctx, err) {
		case statusOK:
			span.SetStatus(codes.Ok, "")
		case statusInterrupted:
			// Not a failure: the run is abandoned and picked up again.
			span.AddEvent("interrupted")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
