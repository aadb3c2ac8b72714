package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithActions limits recording to the listed actions. Every action is
// recorded when the option is absent; names that match no action are ignored.
//
//	audithook.New(recorder,
//	    audithook.WithActions(audithook.ActionJobFailed, audithook.ActionServerFatal),
//	)
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		enabled := make(map[string]bool, len(actions))
		for _, action := range actions {
			enabled[action] = true
		}
		e.enabled = enabled
	}
}

// WithLogger sets the logger used to report recorder failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
