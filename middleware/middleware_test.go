package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/middleware"
)

func TestChain_Nesting(t *testing.T) {
	var order []string
	trace := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			order = append(order, name+">")
			err := next(ctx)
			order = append(order, "<"+name)
			return err
		}
	}

	err := middleware.Chain(trace("recover"), trace("timeout"))(context.Background(), newTestJob(), func(context.Context) error {
		order = append(order, "run")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "recover> timeout> run <timeout <recover"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("order = %q, want %q", got, want)
	}
}

func TestChain_SeesTheSameJob(t *testing.T) {
	j := newTestJob()
	var seen []*job.Job
	capture := func(ctx context.Context, got *job.Job, next middleware.Handler) error {
		seen = append(seen, got)
		return next(ctx)
	}

	if err := middleware.Chain(capture, capture)(context.Background(), j, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || seen[0] != j || seen[1] != j {
		t.Errorf("middleware saw %v, want the run job twice", seen)
	}
}

func TestChain_EmptyRunsHandler(t *testing.T) {
	want := errors.New("runner failed")
	err := middleware.Chain()(context.Background(), newTestJob(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		panic("test panic")
	})
	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
	if got := err.Error(); got != "panic: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
	if pe.Stack == "" {
		t.Error("expected a stack trace")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	called := false
	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Outcomes(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		err   error
		level string
		msg   string
	}{
		{"succeeded", context.Background(), nil, "INFO", "job run succeeded"},
		{"failed", context.Background(), errors.New("smtp down"), "WARN", "job run failed"},
		{"interrupted", cancelled, context.Canceled, "INFO", "job run interrupted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			j := newTestJob()

			err := middleware.Logging(logger)(tt.ctx, j, func(context.Context) error { return tt.err })
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != 2 {
				t.Fatalf("expected start and outcome records, got %d", len(lines))
			}
			var rec map[string]any
			if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
				t.Fatalf("decode log record: %v", err)
			}
			if rec["level"] != tt.level || rec["msg"] != tt.msg {
				t.Errorf("record = %s %q, want %s %q", rec["level"], rec["msg"], tt.level, tt.msg)
			}
			if rec["job_id"] != j.ID.String() || rec["target"] != "handler.send-email" {
				t.Errorf("record attributes = %v", rec)
			}
		})
	}
}

type optionsFor map[string]job.Options

func (o optionsFor) Options(d job.Descriptor) (job.Options, bool) {
	opts, ok := o[d.TargetMember]
	return opts, ok
}

func TestTimeout_UsesDefinitionOptions(t *testing.T) {
	mw := middleware.Timeout(optionsFor{"send-email": {Timeout: 20 * time.Millisecond}}, time.Hour, slog.Default())

	err := mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTimeout_FallbackAndUnlimited(t *testing.T) {
	mw := middleware.Timeout(nil, 0, slog.Default())

	err := mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline without options or fallback")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mw = middleware.Timeout(optionsFor{}, time.Minute, slog.Default())
	_ = mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected the fallback deadline")
		}
		return nil
	})
}
