package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/shepherd/job"
)

// Logging returns middleware that logs the start and outcome of every run.
// Failures log at Warn; interrupted runs at Info since the job is not
// failed by them.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Debug("job run started",
			slog.String("job_id", j.ID.String()),
			slog.String("target", j.Descriptor.Key()),
			slog.Int("failures", j.Failures()),
		)

		start := time.Now()
		err := next(ctx)
		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.String("target", j.Descriptor.Key()),
			slog.Duration("elapsed", time.Since(start)),
		}

		switch runStatus(ctx, err) {
		case statusOK:
			logger.Info("job run succeeded", attrs...)
		case statusInterrupted:
			logger.Info("job run interrupted", attrs...)
		default:
			logger.Warn("job run failed", append(attrs, slog.String("error", err.Error()))...)
		}
		return err
	}
}
