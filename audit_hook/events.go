package audithook

import "github.com/xraph/shepherd/job"

// Audit event actions.
const (
	ActionJobScheduled          = "job.scheduled"
	ActionJobEnqueued           = "job.enqueued"
	ActionJobProcessing         = "job.processing"
	ActionJobSucceeded          = "job.succeeded"
	ActionJobFailed             = "job.failed"
	ActionJobDeleted            = "job.deleted"
	ActionRecurringMaterialized = "recurring.materialized"
	ActionServerStarted         = "server.started"
	ActionServerStopped         = "server.stopped"
	ActionServerFatal           = "server.fatal"
	ActionLeadershipChanged     = "server.leadership_changed"
)

// Audit event categories group related actions.
const (
	CategoryJob       = "shepherd.job"
	CategoryRecurring = "shepherd.recurring"
	CategoryServer    = "shepherd.server"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob       = "job"
	ResourceRecurring = "recurring_job"
	ResourceServer    = "background_job_server"
)

// stateActions maps an applied state to its action.
var stateActions = map[job.StateName]string{
	job.StateScheduled:  ActionJobScheduled,
	job.StateEnqueued:   ActionJobEnqueued,
	job.StateProcessing: ActionJobProcessing,
	job.StateSucceeded:  ActionJobSucceeded,
	job.StateFailed:     ActionJobFailed,
	job.StateDeleted:    ActionJobDeleted,
}

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobScheduled,
		ActionJobEnqueued,
		ActionJobProcessing,
		ActionJobSucceeded,
		ActionJobFailed,
		ActionJobDeleted,
		ActionRecurringMaterialized,
		ActionServerStarted,
		ActionServerStopped,
		ActionServerFatal,
		ActionLeadershipChanged,
	}
}
