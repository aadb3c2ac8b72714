package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/shepherd/job"
)

// Timeout returns middleware that enforces a per-target run deadline. The
// deadline comes from the options the provider holds for the descriptor;
// fallback applies when it has none. Zero means no deadline.
func Timeout(provider job.OptionsProvider, fallback time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		timeout := fallback
		if provider != nil {
			if opts, ok := provider.Options(j.Descriptor); ok {
				timeout = opts.Timeout
			}
		}
		if timeout > 0 {
			logger.Debug("job run deadline set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
