package backoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/shepherd/backoff"
	"github.com/xraph/shepherd/job"
)

func newFailingJob(t *testing.T, name string) *job.Job {
	t.Helper()
	d, err := job.NewDescriptor(job.TargetTypeHandler, name)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	return job.NewEnqueued(d)
}

func TestRetryPolicy_SchedulesWithinBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &backoff.RetryPolicy{
		MaxRetries: 2,
		Strategy:   backoff.NewConstant(time.Minute),
		Now:        func() time.Time { return now },
	}
	j := newFailingJob(t, "send")

	for failures := 1; failures <= 2; failures++ {
		at, ok := p.Decide(j, failures)
		if !ok {
			t.Fatalf("failure %d: expected a retry", failures)
		}
		if !at.Equal(now.Add(time.Minute)) {
			t.Errorf("failure %d: retry at %v, want %v", failures, at, now.Add(time.Minute))
		}
	}
	if _, ok := p.Decide(j, 3); ok {
		t.Error("expected retries to be exhausted after the budget")
	}
}

func TestRetryPolicy_ZeroBudgetNeverRetries(t *testing.T) {
	p := &backoff.RetryPolicy{MaxRetries: 0}
	if _, ok := p.Decide(newFailingJob(t, "send"), 1); ok {
		t.Error("expected no retry with a zero budget")
	}
}

func TestRetryPolicy_DefinitionOverride(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("fragile",
		func(context.Context, struct{}) error { return nil },
		job.WithMaxRetries(1),
	))
	job.RegisterDefinition(reg, job.NewDefinition("default",
		func(context.Context, struct{}) error { return nil },
	))

	p := backoff.DefaultRetryPolicy()
	p.Overrides = reg

	if _, ok := p.Decide(newFailingJob(t, "fragile"), 2); ok {
		t.Error("expected the definition's budget of 1 to apply")
	}
	if _, ok := p.Decide(newFailingJob(t, "default"), backoff.DefaultMaxRetries); !ok {
		t.Error("expected the policy default to apply when the definition sets none")
	}
}
