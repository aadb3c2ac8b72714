package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	mw "github.com/xraph/shepherd/middleware"
)

var testServerID = id.NewServerID()

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

// newTestJob returns a recurring instance on its third run: two failures,
// then claimed by testServerID.
func newTestJob() *job.Job {
	d, err := job.NewDescriptor(job.TargetTypeHandler, "send-email", map[string]string{"to": "a@b.c"})
	if err != nil {
		panic(err)
	}
	j := job.NewEnqueued(d)
	j.RecurringJobID = "newsletter"
	j.Version = 9
	now := time.Now()
	for range 2 {
		mustTransition(j.StartProcessing(testServerID, now))
		mustTransition(j.Fail("smtp down", "net", true, now))
		mustTransition(j.Schedule(now, "retry", now))
		mustTransition(j.Enqueue(now))
	}
	mustTransition(j.StartProcessing(testServerID, now))
	return j
}

func mustTransition(err error) {
	if err != nil {
		panic(err)
	}
}

func runSpan(t *testing.T, ctx context.Context, j *job.Job, h mw.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr, tracer := setupTestTracer()
	err := mw.TracingWithTracer(tracer)(ctx, j, h)
	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	return spans[0], err
}

func hasEvent(span sdktrace.ReadOnlySpan, name string) bool {
	for _, ev := range span.Events() {
		if ev.Name == name {
			return true
		}
	}
	return false
}

func TestTracing_SpanAttributes(t *testing.T) {
	j := newTestJob()
	span, _ := runSpan(t, context.Background(), j, func(context.Context) error { return nil })

	if span.Name() != "shepherd.job.run" {
		t.Errorf("span name = %q", span.Name())
	}

	got := make(map[attribute.Key]attribute.Value)
	for _, a := range span.Attributes() {
		got[a.Key] = a.Value
	}
	want := map[attribute.Key]attribute.Value{
		"shepherd.job.id":           attribute.StringValue(j.ID.String()),
		"shepherd.job.target":       attribute.StringValue("handler.send-email"),
		"shepherd.job.failures":     attribute.IntValue(2),
		"shepherd.job.version":      attribute.Int64Value(9),
		"shepherd.server.id":        attribute.StringValue(testServerID.String()),
		"shepherd.job.recurring_id": attribute.StringValue("newsletter"),
	}
	for key, v := range want {
		if got[key] != v {
			t.Errorf("attribute %s = %v, want %v", key, got[key].Emit(), v.Emit())
		}
	}
}

func TestTracing_OneOffJobHasNoRecurringID(t *testing.T) {
	d, _ := job.NewDescriptor("script", "cleanup")
	span, _ := runSpan(t, context.Background(), job.NewEnqueued(d), func(context.Context) error { return nil })

	for _, a := range span.Attributes() {
		switch a.Key {
		case "shepherd.job.recurring_id", "shepherd.server.id":
			t.Errorf("unexpected attribute %s", a.Key)
		}
	}
}

func TestTracing_Status(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		err       error
		code      codes.Code
		exception bool
	}{
		{"ok", context.Background(), nil, codes.Ok, false},
		{"failed", context.Background(), errors.New("smtp down"), codes.Error, true},
		{"interrupted", cancelled, context.Canceled, codes.Unset, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, err := runSpan(t, tt.ctx, newTestJob(), func(context.Context) error { return tt.err })
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if span.Status().Code != tt.code {
				t.Errorf("status = %v, want %v", span.Status().Code, tt.code)
			}
			if hasEvent(span, "exception") != tt.exception {
				t.Errorf("exception event recorded = %v, want %v", !tt.exception, tt.exception)
			}
			if tt.name == "interrupted" && !hasEvent(span, "interrupted") {
				t.Error("expected an interrupted event")
			}
		})
	}
}

func TestTracing_HandlerSeesSpan(t *testing.T) {
	var inner trace.SpanContext
	span, _ := runSpan(t, context.Background(), newTestJob(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	if !inner.IsValid() || inner.SpanID() != span.SpanContext().SpanID() {
		t.Error("handler context does not carry the run span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
