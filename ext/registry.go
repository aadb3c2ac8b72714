package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches events to them. It
// type-caches extensions at registration time so emit calls iterate only
// over extensions that implement the relevant hook.
//
// Registration is not synchronized; register every extension before the
// server starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	stateElection         []entry[StateElection]
	stateApplied          []entry[StateApplied]
	jobProcessing         []entry[JobProcessing]
	jobProcessed          []entry[JobProcessed]
	recurringMaterialized []entry[RecurringMaterialized]
	leadershipChanged     []entry[LeadershipChanged]
	serverStarted         []entry[ServerStarted]
	serverStopped         []entry[ServerStopped]
	serverFatal           []entry[ServerFatal]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(StateElection); ok {
		r.stateElection = append(r.stateElection, entry[StateElection]{name, h})
	}
	if h, ok := e.(StateApplied); ok {
		r.stateApplied = append(r.stateApplied, entry[StateApplied]{name, h})
	}
	if h, ok := e.(JobProcessing); ok {
		r.jobProcessing = append(r.jobProcessing, entry[JobProcessing]{name, h})
	}
	if h, ok := e.(JobProcessed); ok {
		r.jobProcessed = append(r.jobProcessed, entry[JobProcessed]{name, h})
	}
	if h, ok := e.(RecurringMaterialized); ok {
		r.recurringMaterialized = append(r.recurringMaterialized, entry[RecurringMaterialized]{name, h})
	}
	if h, ok := e.(LeadershipChanged); ok {
		r.leadershipChanged = append(r.leadershipChanged, entry[LeadershipChanged]{name, h})
	}
	if h, ok := e.(ServerStarted); ok {
		r.serverStarted = append(r.serverStarted, entry[ServerStarted]{name, h})
	}
	if h, ok := e.(ServerStopped); ok {
		r.serverStopped = append(r.serverStopped, entry[ServerStopped]{name, h})
	}
	if h, ok := e.(ServerFatal); ok {
		r.serverFatal = append(r.serverFatal, entry[ServerFatal]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// State filter emitters
// ──────────────────────────────────────────────────

// EmitStateElection notifies all extensions that implement StateElection.
func (r *Registry) EmitStateElection(ctx context.Context, j *job.Job, candidate job.State) {
	for _, e := range r.stateElection {
		r.call("OnStateElection", e.name, func() error { return e.hook.OnStateElection(ctx, j, candidate) })
	}
}

// EmitStateApplied notifies all extensions that implement StateApplied.
func (r *Registry) EmitStateApplied(ctx context.Context, j *job.Job, from job.StateName) {
	for _, e := range r.stateApplied {
		r.call("OnStateApplied", e.name, func() error { return e.hook.OnStateApplied(ctx, j, from) })
	}
}

// ──────────────────────────────────────────────────
// Execution emitters
// ──────────────────────────────────────────────────

// EmitJobProcessing notifies all extensions that implement JobProcessing.
func (r *Registry) EmitJobProcessing(ctx context.Context, j *job.Job) {
	for _, e := range r.jobProcessing {
		r.call("OnJobProcessing", e.name, func() error { return e.hook.OnJobProcessing(ctx, j) })
	}
}

// EmitJobProcessed notifies all extensions that implement JobProcessed.
func (r *Registry) EmitJobProcessed(ctx context.Context, j *job.Job, elapsed time.Duration, runErr error) {
	for _, e := range r.jobProcessed {
		r.call("OnJobProcessed", e.name, func() error { return e.hook.OnJobProcessed(ctx, j, elapsed, runErr) })
	}
}

// EmitRecurringMaterialized notifies all extensions that implement
// RecurringMaterialized.
func (r *Registry) EmitRecurringMaterialized(ctx context.Context, rj *recurring.RecurringJob, j *job.Job) {
	for _, e := range r.recurringMaterialized {
		r.call("OnRecurringMaterialized", e.name, func() error { return e.hook.OnRecurringMaterialized(ctx, rj, j) })
	}
}

// ──────────────────────────────────────────────────
// Server emitters
// ──────────────────────────────────────────────────

// EmitLeadershipChanged notifies all extensions that implement
// LeadershipChanged.
func (r *Registry) EmitLeadershipChanged(ctx context.Context, serverID id.ServerID, isLeader bool) {
	for _, e := range r.leadershipChanged {
		r.call("OnLeadershipChanged", e.name, func() error { return e.hook.OnLeadershipChanged(ctx, serverID, isLeader) })
	}
}

// EmitServerStarted notifies all extensions that implement ServerStarted.
func (r *Registry) EmitServerStarted(ctx context.Context, serverID id.ServerID) {
	for _, e := range r.serverStarted {
		r.call("OnServerStarted", e.name, func() error { return e.hook.OnServerStarted(ctx, serverID) })
	}
}

// EmitServerStopped notifies all extensions that implement ServerStopped.
func (r *Registry) EmitServerStopped(ctx context.Context, serverID id.ServerID) {
	for _, e := range r.serverStopped {
		r.call("OnServerStopped", e.name, func() error { return e.hook.OnServerStopped(ctx, serverID) })
	}
}

// EmitServerFatal notifies all extensions that implement ServerFatal.
func (r *Registry) EmitServerFatal(ctx context.Context, serverID id.ServerID, fatalErr error) {
	for _, e := range r.serverFatal {
		r.call("OnServerFatal", e.name, func() error { return e.hook.OnServerFatal(ctx, serverID, fatalErr) })
	}
}

// call runs one hook, turning a panic into a logged error.
func (r *Registry) call(hook, extName string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logHookError(hook, extName, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(hook, extName, err)
	}
}

// logHookError logs a warning when a hook returns an error or panics.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
