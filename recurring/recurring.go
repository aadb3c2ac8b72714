package recurring

import (
	"fmt"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
)

// RecurringJob is a template that spawns a job on every due instant of its
// schedule.
type RecurringJob struct {
	shepherd.Entity

	// ID is chosen by the user and stable across deployments.
	ID         string         `json:"id"`
	Descriptor job.Descriptor `json:"descriptor"`
	Schedule   string         `json:"schedule"`
	// Timezone is an IANA name. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// New returns a template stamped with the current time.
func New(recurringID string, d job.Descriptor, schedule, timezone string) *RecurringJob {
	return &RecurringJob{
		Entity:     shepherd.NewEntity(),
		ID:         recurringID,
		Descriptor: d,
		Schedule:   schedule,
		Timezone:   timezone,
	}
}

// Location resolves Timezone.
func (r *RecurringJob) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q of %s: %w", shepherd.ErrInvalidSchedule, r.Timezone, r.ID, err)
	}
	return loc, nil
}

// InstanceID is the deterministic id of the job materialized for at.
func (r *RecurringJob) InstanceID(at time.Time) id.JobID {
	return id.FromName(id.PrefixJob, r.ID+"@"+at.UTC().Format(time.RFC3339Nano))
}

// Signature is shared by every instance and by any job submitted with the
// same descriptor. At most one of them is active at a time.
func (r *RecurringJob) Signature() string {
	return r.Descriptor.Signature()
}

// NewInstance builds the Scheduled job for the due instant at.
func (r *RecurringJob) NewInstance(at, now time.Time) *job.Job {
	j := job.NewWithID(r.InstanceID(at), r.Descriptor.Clone(), job.Scheduled(at, "recurring job "+r.ID).WithTime(now))
	j.RecurringJobID = r.ID
	return j
}

// Clone returns a deep copy.
func (r *RecurringJob) Clone() *RecurringJob {
	c := *r
	c.Descriptor = r.Descriptor.Clone()
	return &c
}
