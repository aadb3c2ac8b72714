package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/shepherd/job"
	mw "github.com/xraph/shepherd/middleware"
)

type runOutcome struct {
	status string
	retry  bool
}

// runsByOutcome sums shepherd.job.runs per status and retry attribute and
// returns the histogram sample count.
func runsByOutcome(t *testing.T, reader *sdkmetric.ManualReader) (map[runOutcome]int64, uint64) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	runs := make(map[runOutcome]int64)
	var samples uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name != "shepherd.job.runs" {
					continue
				}
				for _, dp := range data.DataPoints {
					status, _ := dp.Attributes.Value("status")
					retry, _ := dp.Attributes.Value("retry")
					target, _ := dp.Attributes.Value("target")
					if target.AsString() != "handler.send-email" {
						t.Errorf("target = %q", target.AsString())
					}
					runs[runOutcome{status.AsString(), retry.AsBool()}] += dp.Value
				}
			case metricdata.Histogram[float64]:
				if m.Name != "shepherd.job.duration" {
					continue
				}
				for _, dp := range data.DataPoints {
					samples += dp.Count
				}
			}
		}
	}
	return runs, samples
}

func TestMetrics_Outcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := mw.MetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))

	d, _ := job.NewDescriptor(job.TargetTypeHandler, "send-email")
	fresh := job.NewEnqueued(d)
	retried := newTestJob()

	ok := func(context.Context) error { return nil }
	boom := func(context.Context) error { return errors.New("boom") }

	_ = m(context.Background(), fresh, ok)
	_ = m(context.Background(), fresh, ok)
	_ = m(context.Background(), retried, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = m(ctx, fresh, func(ctx context.Context) error { return ctx.Err() })

	runs, samples := runsByOutcome(t, reader)
	want := map[runOutcome]int64{
		{"ok", false}:          2,
		{"error", true}:        1,
		{"interrupted", false}: 1,
	}
	for outcome, n := range want {
		if runs[outcome] != n {
			t.Errorf("runs%+v = %d, want %d", outcome, runs[outcome], n)
		}
	}
	if len(runs) != len(want) {
		t.Errorf("unexpected outcomes: %v", runs)
	}
	if samples != 4 {
		t.Errorf("duration samples = %d, want 4", samples)
	}
}

func TestMetrics_PassesErrorThrough(t *testing.T) {
	m := mw.Metrics()
	boom := errors.New("boom")

	err := m(context.Background(), newTestJob(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
