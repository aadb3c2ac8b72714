package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/client"
	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/store/memory"
)

// ── Test Helpers ──────────────────────────────────────

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupClientTest(t *testing.T, opts ...client.Option) (*client.Client, *memory.Store) {
	t.Helper()
	s := memory.New()
	base := []client.Option{
		client.WithLogger(testLogger()),
		client.WithClock(func() time.Time { return now }),
	}
	return client.New(s, append(base, opts...)...), s
}

type EmailInput struct {
	To string `json:"to"`
}

var sendEmail = job.NewDefinition("send-email", func(context.Context, EmailInput) error { return nil })

// ── Jobs ──────────────────────────────────────────────

func TestClient_EnqueueDefinition(t *testing.T) {
	c, s := setupClientTest(t)
	ctx := context.Background()

	j, err := client.EnqueueDefinition(ctx, c, sendEmail, EmailInput{To: "user@example.com"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Version != 1 {
		t.Errorf("Version = %d, want 1", j.Version)
	}

	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.StateName() != job.StateEnqueued {
		t.Errorf("state = %s, want ENQUEUED", stored.StateName())
	}
	if stored.Descriptor.Key() != "handler.send-email" {
		t.Errorf("target = %q", stored.Descriptor.Key())
	}

	var in EmailInput
	if err := stored.Descriptor.Param(0, &in); err != nil {
		t.Fatalf("param: %v", err)
	}
	if in.To != "user@example.com" {
		t.Errorf("payload To = %q", in.To)
	}
}

func TestClient_Schedule(t *testing.T) {
	c, s := setupClientTest(t)
	ctx := context.Background()
	at := now.Add(time.Hour)

	j, err := client.ScheduleDefinition(ctx, c, sendEmail, EmailInput{To: "later@example.com"}, at)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	due, _ := s.ListScheduledBefore(ctx, at, job.Page{})
	if len(due) != 1 || due[0].ID != j.ID {
		t.Fatalf("expected the job due at %s, got %d jobs", at, len(due))
	}
	early, _ := s.ListScheduledBefore(ctx, at.Add(-time.Second), job.Page{})
	if len(early) != 0 {
		t.Errorf("job due too early")
	}
}

func TestClient_Delete(t *testing.T) {
	c, s := setupClientTest(t)
	ctx := context.Background()

	j, _ := client.EnqueueDefinition(ctx, c, sendEmail, EmailInput{})
	if err := c.Delete(ctx, j.ID, "no longer needed"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	stored, _ := s.GetJob(ctx, j.ID)
	if stored.StateName() != job.StateDeleted {
		t.Fatalf("state = %s, want DELETED", stored.StateName())
	}
	if stored.State().Reason != "no longer needed" {
		t.Errorf("reason = %q", stored.State().Reason)
	}

	// Idempotent.
	if err := c.Delete(ctx, j.ID, "again"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestClient_DeleteProcessingJob(t *testing.T) {
	c, s := setupClientTest(t)
	ctx := context.Background()

	j, _ := client.EnqueueDefinition(ctx, c, sendEmail, EmailInput{})
	claimed, _ := s.GetJob(ctx, j.ID)
	_ = claimed.StartProcessing(id.NewServerID(), now)
	if err := s.SaveJob(ctx, claimed); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := c.Delete(ctx, j.ID, "cancel"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stored, _ := s.GetJob(ctx, j.ID)
	if stored.StateName() != job.StateDeleted {
		t.Errorf("state = %s, want DELETED", stored.StateName())
	}
}

func TestClient_DeleteUnknown(t *testing.T) {
	c, _ := setupClientTest(t)
	err := c.Delete(context.Background(), id.NewJobID(), "x")
	if !errors.Is(err, shepherd.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

type appliedCounter struct{ n int }

func (a *appliedCounter) Name() string { return "applied-counter" }

func (a *appliedCounter) OnStateApplied(context.Context, *job.Job, job.StateName) error {
	a.n++
	return nil
}

func TestClient_WritesRunFilters(t *testing.T) {
	reg := ext.NewRegistry(testLogger())
	counter := &appliedCounter{}
	reg.Register(counter)
	c, _ := setupClientTest(t, client.WithExtensions(reg))
	ctx := context.Background()

	j, _ := client.EnqueueDefinition(ctx, c, sendEmail, EmailInput{})
	_ = c.Delete(ctx, j.ID, "x")

	if counter.n != 2 {
		t.Errorf("applied = %d, want 2", counter.n)
	}
}

func TestClient_Stats(t *testing.T) {
	c, _ := setupClientTest(t)
	ctx := context.Background()
	for range 3 {
		_, _ = client.EnqueueDefinition(ctx, c, sendEmail, EmailInput{})
	}
	_, _ = client.ScheduleDefinition(ctx, c, sendEmail, EmailInput{}, now.Add(time.Hour))

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Enqueued != 3 || stats.Scheduled != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// ── Recurring ─────────────────────────────────────────

func TestClient_AddOrReplaceRecurring(t *testing.T) {
	c, s := setupClientTest(t)
	ctx := context.Background()

	r, err := client.AddOrReplaceRecurringDefinition(ctx, c, "digest", sendEmail, EmailInput{To: "team@example.com"}, "0 3 * * *", "Europe/Brussels")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	first, _ := s.GetRecurringJob(ctx, "digest")

	// Replace keeps the identity and creation time.
	if _, err := client.AddOrReplaceRecurringDefinition(ctx, c, "digest", sendEmail, EmailInput{}, "0 4 * * *", ""); err != nil {
		t.Fatalf("replace: %v", err)
	}
	list, _ := c.ListRecurring(ctx)
	if len(list) != 1 {
		t.Fatalf("recurring jobs = %d, want 1", len(list))
	}
	if list[0].Schedule != "0 4 * * *" {
		t.Errorf("schedule = %q", list[0].Schedule)
	}
	if !list[0].CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed from %s to %s", first.CreatedAt, list[0].CreatedAt)
	}
	if r.ID != "digest" {
		t.Errorf("ID = %q", r.ID)
	}
}

func TestClient_AddRecurringRejectsBadInput(t *testing.T) {
	c, _ := setupClientTest(t)
	ctx := context.Background()
	d, _ := sendEmail.Descriptor(EmailInput{})

	if _, err := c.AddOrReplaceRecurring(ctx, "bad", d, "every tuesday", ""); !errors.Is(err, shepherd.ErrInvalidSchedule) {
		t.Errorf("bad schedule: expected ErrInvalidSchedule, got %v", err)
	}
	if _, err := c.AddOrReplaceRecurring(ctx, "bad", d, "0 3 * * *", "Mars/Olympus"); !errors.Is(err, shepherd.ErrInvalidSchedule) {
		t.Errorf("bad timezone: expected ErrInvalidSchedule, got %v", err)
	}
	if _, err := c.AddOrReplaceRecurring(ctx, "", d, "0 3 * * *", ""); err == nil {
		t.Error("expected an error for an empty id")
	}
}

func TestClient_RemoveRecurring(t *testing.T) {
	c, _ := setupClientTest(t)
	ctx := context.Background()
	d, _ := sendEmail.Descriptor(EmailInput{})
	_, _ = c.AddOrReplaceRecurring(ctx, "digest", d, "0 3 * * *", "")

	if err := c.RemoveRecurring(ctx, "digest"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := c.RemoveRecurring(ctx, "digest"); !errors.Is(err, shepherd.ErrRecurringJobNotFound) {
		t.Errorf("expected ErrRecurringJobNotFound, got %v", err)
	}
}
