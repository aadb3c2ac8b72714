package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/job"
)

type countingRunner struct {
	targetType string
	checks     int
}

func (c *countingRunner) CanRun(d job.Descriptor) bool {
	c.checks++
	return d.TargetType == c.targetType
}

func (c *countingRunner) Run(context.Context, job.Descriptor) error { return nil }

func TestRunners_FirstMatchWins(t *testing.T) {
	first := job.NewFuncRunner("script", func(context.Context, job.Descriptor) error { return errors.New("first") })
	second := job.NewFuncRunner("script", func(context.Context, job.Descriptor) error { return errors.New("second") })
	runners := job.NewRunners(first, second)

	d, _ := job.NewDescriptor("script", "cleanup")
	r, err := runners.Resolve(d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := r.Run(context.Background(), d); err == nil || err.Error() != "first" {
		t.Errorf("expected the first runner, got %v", err)
	}
}

func TestRunners_NoMatch(t *testing.T) {
	runners := job.NewRunners(job.NewRegistry())
	d, _ := job.NewDescriptor("script", "cleanup")
	if _, err := runners.Resolve(d); !errors.Is(err, shepherd.ErrNoRunner) {
		t.Fatalf("expected ErrNoRunner, got %v", err)
	}
}

func TestRunners_CachesCacheableDescriptors(t *testing.T) {
	cr := &countingRunner{targetType: "script"}
	runners := job.NewRunners(cr)

	d, _ := job.NewDescriptor("script", "cleanup")
	for range 3 {
		if _, err := runners.Resolve(d); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if cr.checks != 1 {
		t.Errorf("expected 1 capability check, got %d", cr.checks)
	}

	d.Cacheable = false
	for range 2 {
		_, _ = runners.Resolve(d)
	}
	if cr.checks != 3 {
		t.Errorf("expected uncached lookups to check again, got %d checks", cr.checks)
	}
}

func TestRunners_RegisterClearsCache(t *testing.T) {
	runners := job.NewRunners()
	d, _ := job.NewDescriptor("script", "cleanup")
	if _, err := runners.Resolve(d); err == nil {
		t.Fatal("expected no runner yet")
	}
	runners.Register(job.NewFuncRunner("script", func(context.Context, job.Descriptor) error { return nil }))
	if _, err := runners.Resolve(d); err != nil {
		t.Fatalf("expected a runner after Register: %v", err)
	}
	if runners.Len() != 1 {
		t.Errorf("Len = %d, want 1", runners.Len())
	}
}

func TestRunners_OptionsFromResolvedRunner(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("resize",
		func(context.Context, struct{}) error { return nil },
		job.WithMaxRetries(2),
	))
	runners := job.NewRunners(
		job.NewFuncRunner("script", func(context.Context, job.Descriptor) error { return nil }),
		reg,
	)

	d, _ := job.NewDescriptor(job.TargetTypeHandler, "resize")
	opts, ok := runners.Options(d)
	if !ok {
		t.Fatal("expected options for a registered definition")
	}
	if opts.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", opts.MaxRetries)
	}

	script, _ := job.NewDescriptor("script", "cleanup")
	if _, ok := runners.Options(script); ok {
		t.Error("expected no options for a runner without any")
	}
}
