// Package server runs a background job server: the process that takes part
// in the leader election, maintains the store and executes jobs.
//
// A Server wires the subsystems together. The cluster.Monitor keeps the
// heartbeat alive on one loop; the caretaker.Caretaker promotes, recovers,
// materializes and onboards work on another; the worker.Performer runs
// claimed jobs on a bounded pool.
//
// # Building a Server
//
//	srv, err := server.New(pgStore,
//	    server.WithPollInterval(15*time.Second),
//	    server.WithWorkerCount(20),
//	    server.WithExtension(audithook.New(recorder)),
//	)
//
//	server.Register(srv, SendEmail)
//
// # Lifecycle
//
// Start, Pause, Resume and Stop may be called from any goroutine and are
// idempotent. A paused server keeps its heartbeat but takes no new work.
// Stop interrupts in-flight jobs, waits up to
// Config.InterruptJobsAwaitDuration for them and removes the heartbeat last.
//
// A server stops itself on a fatal error: too many storage failures within
// Config.ExceptionWindow, exhausted election resets, or a job no runner can
// run. Before stopping it leaves a diagnostic snapshot in the metadata
// store under FatalMetadataName, owned by its server id.
//
// # Options
//
//   - [WithConfig], [WithPollInterval], [WithWorkerCount], [WithServerName]
//   - [WithRunner] and [Register] to add job runners
//   - [WithExtension] and [WithMiddleware]
//   - [WithRetryPolicy] and [WithPoolSizePolicy]
//   - [WithTracerProvider] and [WithMeterProvider]
package server
