// Package middleware provides composable middleware around runner
// invocation.
//
// A [Middleware] wraps the call that runs a claimed job. Middleware are
// composed into a chain using [Chain] and applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → runner
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs the target, duration and outcome of each run
//   - [Recover] catches panics and converts them to errors
//   - [Timeout] cancels the run context after the definition's timeout
//   - [Tracing] wraps the run in an OpenTelemetry span
//   - [Metrics] records run duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting. The error returned by the chain decides whether the job
// succeeds or fails.
package middleware
