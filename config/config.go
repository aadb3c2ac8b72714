// Package config loads a shepherd.Config from a file and the environment.
//
// Keys are the snake_case field names of shepherd.Config. Environment
// variables take precedence over the file and use the SHEPHERD_ prefix:
//
//	# shepherd.yaml
//	poll_interval: 10s
//	worker_count: 16
//
//	SHEPHERD_WORKER_COUNT=32 ./app
//
// Durations accept Go duration strings ("90s", "36h").
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/xraph/shepherd"
)

// EnvPrefix is the default prefix of environment variables.
const EnvPrefix = "SHEPHERD"

const (
	keyServerName                 = "server_name"
	keyPollInterval               = "poll_interval"
	keyWorkerCount                = "worker_count"
	keyServerTimeoutMultiplicand  = "server_timeout_multiplicand"
	keyMaxWorkPageSize            = "max_work_page_size"
	keyDeleteSucceededAfter       = "delete_succeeded_after"
	keyPermanentlyDeleteAfter     = "permanently_delete_after"
	keyInterruptJobsAwaitDuration = "interrupt_jobs_await_duration"
	keyMaxElectionResets          = "max_election_resets"
	keyMaxExceptions              = "max_exceptions"
	keyExceptionWindow            = "exception_window"
	keyRecurringCatchUp           = "recurring_catch_up"
	keyStopOnMissingRunner        = "stop_on_missing_runner"
)

// Option configures Load.
type Option func(*loader)

type loader struct {
	v         *viper.Viper
	file      string
	envPrefix string
}

// WithFile reads path. The format follows the extension: .yaml, .yml,
// .toml or .json. A missing file is an error.
func WithFile(path string) Option {
	return func(l *loader) { l.file = path }
}

// WithViper loads from v instead of a fresh instance.
func WithViper(v *viper.Viper) Option {
	return func(l *loader) { l.v = v }
}

// WithEnvPrefix replaces EnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.envPrefix = prefix }
}

// Load returns shepherd.DefaultConfig overlaid with the file and the
// environment. The result is validated.
func Load(opts ...Option) (shepherd.Config, error) {
	l := &loader{envPrefix: EnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	if l.v == nil {
		l.v = viper.New()
	}

	def := shepherd.DefaultConfig()
	l.setDefaults(def)

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()

	if l.file != "" {
		l.v.SetConfigFile(l.file)
		if err := l.v.ReadInConfig(); err != nil {
			return shepherd.Config{}, fmt.Errorf("shepherd/config: read %s: %w", l.file, err)
		}
	}

	cfg := shepherd.Config{
		ServerName:                 l.v.GetString(keyServerName),
		PollInterval:               l.v.GetDuration(keyPollInterval),
		WorkerCount:                l.v.GetInt(keyWorkerCount),
		ServerTimeoutMultiplicand:  l.v.GetInt(keyServerTimeoutMultiplicand),
		MaxWorkPageSize:            l.v.GetInt(keyMaxWorkPageSize),
		DeleteSucceededAfter:       l.v.GetDuration(keyDeleteSucceededAfter),
		PermanentlyDeleteAfter:     l.v.GetDuration(keyPermanentlyDeleteAfter),
		InterruptJobsAwaitDuration: l.v.GetDuration(keyInterruptJobsAwaitDuration),
		MaxElectionResets:          l.v.GetInt(keyMaxElectionResets),
		MaxExceptions:              l.v.GetInt(keyMaxExceptions),
		ExceptionWindow:            l.v.GetDuration(keyExceptionWindow),
		RecurringCatchUp:           l.v.GetDuration(keyRecurringCatchUp),
		StopOnMissingRunner:        l.v.GetBool(keyStopOnMissingRunner),
	}
	if cfg.ServerName == "" {
		cfg.ServerName = def.ServerName
	}

	if err := cfg.Validate(); err != nil {
		return shepherd.Config{}, fmt.Errorf("shepherd/config: %w", err)
	}
	return cfg, nil
}

func (l *loader) setDefaults(def shepherd.Config) {
	l.v.SetDefault(keyServerName, def.ServerName)
	l.v.SetDefault(keyPollInterval, def.PollInterval)
	l.v.SetDefault(keyWorkerCount, def.WorkerCount)
	l.v.SetDefault(keyServerTimeoutMultiplicand, def.ServerTimeoutMultiplicand)
	l.v.SetDefault(keyMaxWorkPageSize, def.MaxWorkPageSize)
	l.v.SetDefault(keyDeleteSucceededAfter, def.DeleteSucceededAfter)
	l.v.SetDefault(keyPermanentlyDeleteAfter, def.PermanentlyDeleteAfter)
	l.v.SetDefault(keyInterruptJobsAwaitDuration, def.InterruptJobsAwaitDuration)
	l.v.SetDefault(keyMaxElectionResets, def.MaxElectionResets)
	l.v.SetDefault(keyMaxExceptions, def.MaxExceptions)
	l.v.SetDefault(keyExceptionWindow, def.ExceptionWindow)
	l.v.SetDefault(keyRecurringCatchUp, def.RecurringCatchUp)
	l.v.SetDefault(keyStopOnMissingRunner, def.StopOnMissingRunner)
}
