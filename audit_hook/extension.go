package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/recurring"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Extension)(nil)
	_ ext.StateApplied          = (*Extension)(nil)
	_ ext.RecurringMaterialized = (*Extension)(nil)
	_ ext.ServerStarted         = (*Extension)(nil)
	_ ext.ServerStopped         = (*Extension)(nil)
	_ ext.ServerFatal           = (*Extension)(nil)
	_ ext.LeadershipChanged     = (*Extension)(nil)
)

// Recorder persists audit events. Callers supply the backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Shepherd lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── State hooks ─────────────────────────────────────

// OnStateApplied implements ext.StateApplied.
func (e *Extension) OnStateApplied(ctx context.Context, j *job.Job, from job.StateName) error {
	s := j.State()
	action, ok := stateActions[s.Name]
	if !ok {
		return nil
	}

	severity, outcome := SeverityInfo, OutcomeSuccess
	var cause error
	kv := []any{
		"target", j.Descriptor.Key(),
		"from", string(from),
		"version", j.Version,
	}
	if j.RecurringJobID != "" {
		kv = append(kv, "recurring_job_id", j.RecurringJobID)
	}

	switch s.Name {
	case job.StateScheduled:
		kv = append(kv, "scheduled_at", s.ScheduledAt.Format(time.RFC3339), "reason", s.Reason)
	case job.StateProcessing:
		kv = append(kv, "server_id", s.ServerID.String())
	case job.StateSucceeded:
		kv = append(kv, "duration_ms", s.Duration.Milliseconds(), "latency_ms", s.Latency.Milliseconds())
	case job.StateFailed:
		outcome = OutcomeFailure
		severity = SeverityCritical
		if s.WillRetry {
			severity = SeverityWarning
		}
		cause = errors.New(s.Message)
		kv = append(kv, "cause", s.Cause, "will_retry", s.WillRetry, "failures", j.Failures())
	case job.StateDeleted:
		severity = SeverityWarning
		kv = append(kv, "reason", s.Reason)
	}

	return e.record(ctx, action, severity, outcome,
		ResourceJob, j.ID.String(), CategoryJob, cause, kv...)
}

// OnRecurringMaterialized implements ext.RecurringMaterialized.
func (e *Extension) OnRecurringMaterialized(ctx context.Context, r *recurring.RecurringJob, j *job.Job) error {
	return e.record(ctx, ActionRecurringMaterialized, SeverityInfo, OutcomeSuccess,
		ResourceRecurring, r.ID, CategoryRecurring, nil,
		"job_id", j.ID.String(),
		"schedule", r.Schedule,
		"scheduled_at", j.State().ScheduledAt.Format(time.RFC3339),
	)
}

// ── Server hooks ────────────────────────────────────

// OnServerStarted implements ext.ServerStarted.
func (e *Extension) OnServerStarted(ctx context.Context, serverID id.ServerID) error {
	return e.record(ctx, ActionServerStarted, SeverityInfo, OutcomeSuccess,
		ResourceServer, serverID.String(), CategoryServer, nil)
}

// OnServerStopped implements ext.ServerStopped.
func (e *Extension) OnServerStopped(ctx context.Context, serverID id.ServerID) error {
	return e.record(ctx, ActionServerStopped, SeverityInfo, OutcomeSuccess,
		ResourceServer, serverID.String(), CategoryServer, nil)
}

// OnServerFatal implements ext.ServerFatal.
func (e *Extension) OnServerFatal(ctx context.Context, serverID id.ServerID, err error) error {
	return e.record(ctx, ActionServerFatal, SeverityCritical, OutcomeFailure,
		ResourceServer, serverID.String(), CategoryServer, err)
}

// OnLeadershipChanged implements ext.LeadershipChanged.
func (e *Extension) OnLeadershipChanged(ctx context.Context, serverID id.ServerID, isLeader bool) error {
	return e.record(ctx, ActionLeadershipChanged, SeverityInfo, OutcomeSuccess,
		ResourceServer, serverID.String(), CategoryServer, nil,
		"is_leader", isLeader,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
