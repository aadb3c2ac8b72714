// Package audithook is a Shepherd extension that bridges state transitions
// and server lifecycle events to an audit trail backend.
//
// Every applied job state, materialized recurring job and server lifecycle
// hook emits a structured audit event through the [Recorder] interface. The
// extension assigns severity levels (info for normal operations, warning
// for retried failures and deletions, critical for final failures and fatal
// stops) and metadata such as the job target and the failure cause.
//
// # Recording to a log
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    auditLog.InfoContext(ctx, evt.Action,
//	        slog.String("resource_id", evt.ResourceID),
//	        slog.String("outcome", evt.Outcome),
//	        slog.Any("metadata", evt.Metadata),
//	    )
//	    return nil
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionServerFatal,
//	    ),
//	)
package audithook
