package recurring

import (
	"fmt"

	"github.com/xraph/shepherd/job"
)

// Definition is a typed recurring job definition. T is the payload type
// of the job definition it schedules.
type Definition[T any] struct {
	// ID is the unique identifier of the template.
	ID string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// Timezone is the IANA zone the schedule is evaluated in. Empty means UTC.
	Timezone string

	// Job is the definition run on every due instant.
	Job *job.Definition[T]

	// Payload is passed to every spawned job.
	Payload T
}

// RecurringJob validates the schedule and builds the template.
func (d Definition[T]) RecurringJob() (*RecurringJob, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("shepherd/recurring: definition for %q has no id", d.Schedule)
	}
	if _, err := ParseSchedule(d.Schedule); err != nil {
		return nil, err
	}
	desc, err := d.Job.Descriptor(d.Payload)
	if err != nil {
		return nil, err
	}
	r := New(d.ID, desc, d.Schedule, d.Timezone)
	if _, err := r.Location(); err != nil {
		return nil, err
	}
	return r, nil
}
