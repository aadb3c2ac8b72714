package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/shepherd/job"
)

// PanicError is returned by Recover when the run panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to *PanicError and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job runner panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("target", j.Descriptor.Key()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = &PanicError{Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
