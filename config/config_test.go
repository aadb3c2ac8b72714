package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	def := shepherd.DefaultConfig()
	assert.Equal(t, def.PollInterval, cfg.PollInterval)
	assert.Equal(t, def.MaxWorkPageSize, cfg.MaxWorkPageSize)
	assert.Equal(t, def.DeleteSucceededAfter, cfg.DeleteSucceededAfter)
	assert.True(t, cfg.StopOnMissingRunner)
	assert.NotEmpty(t, cfg.ServerName)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "shepherd.yaml", `
server_name: worker-a
poll_interval: 10s
worker_count: 16
delete_succeeded_after: 12h
stop_on_missing_runner: false
`)

	cfg, err := config.Load(config.WithFile(path))
	require.NoError(t, err)

	assert.Equal(t, "worker-a", cfg.ServerName)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 16, cfg.WorkerCount)
	assert.Equal(t, 12*time.Hour, cfg.DeleteSucceededAfter)
	assert.False(t, cfg.StopOnMissingRunner)
	// Untouched keys keep their defaults.
	assert.Equal(t, 72*time.Hour, cfg.PermanentlyDeleteAfter)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "shepherd.toml", `
poll_interval = "30s"
max_exceptions = 10
exception_window = "5m"
`)

	cfg, err := config.Load(config.WithFile(path))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.MaxExceptions)
	assert.Equal(t, 5*time.Minute, cfg.ExceptionWindow)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "shepherd.json", `{"worker_count": 4, "recurring_catch_up": "1h"}`)

	cfg, err := config.Load(config.WithFile(path))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, time.Hour, cfg.RecurringCatchUp)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "shepherd.yaml", "worker_count: 16\npoll_interval: 10s\n")
	t.Setenv("SHEPHERD_WORKER_COUNT", "32")
	t.Setenv("SHEPHERD_INTERRUPT_JOBS_AWAIT_DURATION", "3s")

	cfg, err := config.Load(config.WithFile(path))
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.WorkerCount)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.InterruptJobsAwaitDuration)
}

func TestLoad_CustomEnvPrefix(t *testing.T) {
	t.Setenv("JOBS_MAX_WORK_PAGE_SIZE", "25")

	cfg, err := config.Load(config.WithEnvPrefix("JOBS"), config.WithViper(viper.New()))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.MaxWorkPageSize)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "shepherd.yaml", "server_timeout_multiplicand: 2\n")

	_, err := config.Load(config.WithFile(path))
	require.ErrorIs(t, err, shepherd.ErrInvalidConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(config.WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
	require.Error(t, err)
}
