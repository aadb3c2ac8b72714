package ext

import (
	"context"
	"time"

	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// State filters
// ──────────────────────────────────────────────────

// StateElection is called before candidate is appended to j and saved.
type StateElection interface {
	OnStateElection(ctx context.Context, j *job.Job, candidate job.State) error
}

// StateApplied is called after a save moved j out of from. The applied
// state is j.State().
type StateApplied interface {
	OnStateApplied(ctx context.Context, j *job.Job, from job.StateName) error
}

// ──────────────────────────────────────────────────
// Execution hooks
// ──────────────────────────────────────────────────

// JobProcessing is called when a claimed job is handed to its runner.
type JobProcessing interface {
	OnJobProcessing(ctx context.Context, j *job.Job) error
}

// JobProcessed is called when the runner returned. runErr is nil on
// success.
type JobProcessed interface {
	OnJobProcessed(ctx context.Context, j *job.Job, elapsed time.Duration, runErr error) error
}

// RecurringMaterialized is called after r spawned the Scheduled job j.
type RecurringMaterialized interface {
	OnRecurringMaterialized(ctx context.Context, r *recurring.RecurringJob, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Server hooks
// ──────────────────────────────────────────────────

// LeadershipChanged is called when the local server gains or loses
// leadership.
type LeadershipChanged interface {
	OnLeadershipChanged(ctx context.Context, serverID id.ServerID, isLeader bool) error
}

// ServerStarted is called after the server started processing.
type ServerStarted interface {
	OnServerStarted(ctx context.Context, serverID id.ServerID) error
}

// ServerStopped is called after the server stopped.
type ServerStopped interface {
	OnServerStopped(ctx context.Context, serverID id.ServerID) error
}

// ServerFatal is called when the server stops because of err.
type ServerFatal interface {
	OnServerFatal(ctx context.Context, serverID id.ServerID, err error) error
}
