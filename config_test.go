package shepherd_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/shepherd"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := shepherd.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if got := cfg.ServerTimeout(); got != time.Minute {
		t.Errorf("expected 4 x 15s timeout, got %v", got)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*shepherd.Config)
	}{
		{"zero poll interval", func(c *shepherd.Config) { c.PollInterval = 0 }},
		{"negative workers", func(c *shepherd.Config) { c.WorkerCount = -1 }},
		{"multiplicand below four", func(c *shepherd.Config) { c.ServerTimeoutMultiplicand = 3 }},
		{"zero page size", func(c *shepherd.Config) { c.MaxWorkPageSize = 0 }},
		{"zero retention", func(c *shepherd.Config) { c.DeleteSucceededAfter = 0 }},
		{"zero exception window", func(c *shepherd.Config) { c.ExceptionWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := shepherd.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, shepherd.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
