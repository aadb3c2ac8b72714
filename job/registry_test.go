package job_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/xraph/shepherd/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func noop(context.Context, struct{}) error { return nil }

func mustDescriptor[T any](t *testing.T, def *job.Definition[T], payload T) job.Descriptor {
	t.Helper()
	d, err := def.Descriptor(payload)
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	return d
}

func TestRegistry_RunDecodesPayload(t *testing.T) {
	r := job.NewRegistry()
	var got emailPayload
	def := job.NewDefinition("send-email", func(_ context.Context, p emailPayload) error {
		got = p
		return nil
	})
	job.RegisterDefinition(r, def)

	d := mustDescriptor(t, def, emailPayload{To: "alice@example.com", Subject: "Hello"})
	if !r.CanRun(d) {
		t.Fatal("registry cannot run its own descriptor")
	}
	if err := r.Run(context.Background(), d); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != (emailPayload{To: "alice@example.com", Subject: "Hello"}) {
		t.Errorf("handler got %+v", got)
	}
}

func TestRegistry_CanRun(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("report", noop))

	known, _ := job.NewDescriptor(job.TargetTypeHandler, "report")
	unknown, _ := job.NewDescriptor(job.TargetTypeHandler, "invoice")
	foreign, _ := job.NewDescriptor("script", "report")

	cases := []struct {
		name string
		d    job.Descriptor
		want bool
	}{
		{"registered", known, true},
		{"unregistered member", unknown, false},
		{"other target type", foreign, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.CanRun(tc.d); got != tc.want {
				t.Errorf("CanRun = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRegistry_RunUnknownMember(t *testing.T) {
	r := job.NewRegistry()
	d, _ := job.NewDescriptor(job.TargetTypeHandler, "missing")
	if err := r.Run(context.Background(), d); err == nil {
		t.Fatal("expected error for unregistered definition")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()
	for _, name := range []string{"cleanup", "archive", "billing"} {
		job.RegisterDefinition(r, job.NewDefinition(name, noop))
	}

	names := r.Names()
	slices.Sort(names)
	if want := []string{"archive", "billing", "cleanup"}; !slices.Equal(names, want) {
		t.Errorf("Names = %v, want %v", names, want)
	}
}

func TestRegistry_MalformedParameter(t *testing.T) {
	r := job.NewRegistry()
	def := job.NewDefinition("send-email", func(context.Context, emailPayload) error {
		t.Error("handler ran with a malformed parameter")
		return nil
	})
	job.RegisterDefinition(r, def)

	d := mustDescriptor(t, def, emailPayload{})
	d.Parameters[0] = []byte(`{"to":`)
	if err := r.Run(context.Background(), d); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRegistry_HandlerErrorIsReturned(t *testing.T) {
	r := job.NewRegistry()
	boom := errors.New("smtp unreachable")
	def := job.NewDefinition("send-email", func(context.Context, emailPayload) error { return boom })
	job.RegisterDefinition(r, def)

	if err := r.Run(context.Background(), mustDescriptor(t, def, emailPayload{})); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestRegistry_Options(t *testing.T) {
	r := job.NewRegistry()
	def := job.NewDefinition("send-email", func(context.Context, emailPayload) error { return nil },
		job.WithTimeout(time.Second), job.WithMaxRetries(2))
	job.RegisterDefinition(r, def)

	opts, ok := r.Options(mustDescriptor(t, def, emailPayload{}))
	if !ok {
		t.Fatal("expected options for a registered definition")
	}
	if opts.Timeout != time.Second || opts.MaxRetries != 2 {
		t.Errorf("Options = %+v", opts)
	}

	plain := job.NewDefinition("plain", noop)
	job.RegisterDefinition(r, plain)
	opts, _ = r.Options(mustDescriptor(t, plain, struct{}{}))
	if opts != job.DefaultOptions() {
		t.Errorf("Options = %+v, want defaults", opts)
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	r := job.NewRegistry()
	calls := ""
	job.RegisterDefinition(r, job.NewDefinition("sync", func(context.Context, struct{}) error {
		calls += "old"
		return nil
	}))
	def := job.NewDefinition("sync", func(context.Context, struct{}) error {
		calls += "new"
		return nil
	})
	job.RegisterDefinition(r, def)

	if err := r.Run(context.Background(), mustDescriptor(t, def, struct{}{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != "new" {
		t.Errorf("calls = %q, want the replacement handler only", calls)
	}
}
