package job

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
)

// Job is a unit of work together with its append-only state history.
//
// A Job read from a store is a snapshot. Version is the number of successful
// saves; a save presenting a stale version fails, so every change to a job
// must be made on the latest snapshot.
type Job struct {
	shepherd.Entity

	ID             id.JobID   `json:"id"`
	Version        int        `json:"version"`
	Signature      string     `json:"signature"`
	RecurringJobID string     `json:"recurring_job_id,omitempty"`
	Descriptor     Descriptor `json:"descriptor"`

	history []State
}

// NewEnqueued returns a new job that may be claimed right away.
func NewEnqueued(d Descriptor) *Job {
	return newJob(id.NewJobID(), d, Enqueued())
}

// NewScheduled returns a new job that becomes due at the given instant.
func NewScheduled(d Descriptor, at time.Time, reason string) *Job {
	return newJob(id.NewJobID(), d, Scheduled(at, reason))
}

// NewWithID returns a new job with a caller-chosen identity. The first state
// must be Scheduled or Enqueued.
func NewWithID(jobID id.JobID, d Descriptor, first State) *Job {
	if first.Name != StateScheduled && first.Name != StateEnqueued {
		first = Enqueued()
	}
	return newJob(jobID, d, first)
}

func newJob(jobID id.JobID, d Descriptor, first State) *Job {
	now := time.Now().UTC()
	if first.At.IsZero() {
		first.At = now
	}
	return &Job{
		Entity:     shepherd.Entity{CreatedAt: first.At, UpdatedAt: first.At},
		ID:         jobID,
		Signature:  d.Signature(),
		Descriptor: d,
		history:    []State{first},
	}
}

// Restore rebuilds a persisted job from its fields and history. Backends use
// it when loading records.
func Restore(base Job, history []State) *Job {
	j := base
	j.history = slices.Clone(history)
	return &j
}

// State returns the current state, the last entry of the history.
func (j *Job) State() State {
	if len(j.history) == 0 {
		return State{}
	}
	return j.history[len(j.history)-1]
}

// StateName returns the name of the current state.
func (j *Job) StateName() StateName {
	return j.State().Name
}

// Is reports whether the current state is one of names.
func (j *Job) Is(names ...StateName) bool {
	return slices.Contains(names, j.StateName())
}

// History returns a copy of the state history, oldest first.
func (j *Job) History() []State {
	return slices.Clone(j.history)
}

// PreviousState returns the state before the current one.
func (j *Job) PreviousState() (State, bool) {
	if len(j.history) < 2 {
		return State{}, false
	}
	return j.history[len(j.history)-2], true
}

// Failures counts the Failed entries in the history.
func (j *Job) Failures() int {
	n := 0
	for _, s := range j.history {
		if s.Name == StateFailed {
			n++
		}
	}
	return n
}

// IsNew reports whether the job has never been saved.
func (j *Job) IsNew() bool {
	return j.Version == 0
}

// Transition appends s to the history when the move from the current state
// is legal. A zero s.At is stamped with the current time. UpdatedAt follows
// the newest state.
func (j *Job) Transition(s State) error {
	from := j.StateName()
	if !CanTransition(from, s.Name) {
		return illegalTransition(from, s.Name)
	}
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}
	j.history = append(j.history, s)
	j.UpdatedAt = s.At
	return nil
}

// Enqueue moves a Scheduled job to Enqueued.
func (j *Job) Enqueue(now time.Time) error {
	return j.Transition(Enqueued().WithTime(now))
}

// StartProcessing claims an Enqueued job for serverID.
func (j *Job) StartProcessing(serverID id.ServerID, now time.Time) error {
	return j.Transition(Processing(serverID).WithTime(now))
}

// Succeed finishes a Processing job.
func (j *Job) Succeed(now time.Time) error {
	return j.Transition(j.SuccessState(now))
}

// SuccessState returns the Succeeded state the job would enter at now.
// Latency is measured from the moment the job was enqueued to the start of
// the run.
func (j *Job) SuccessState(now time.Time) State {
	var latency, duration time.Duration
	if cur := j.State(); cur.Name == StateProcessing {
		duration = now.Sub(cur.At)
		if prev, ok := j.PreviousState(); ok {
			latency = cur.At.Sub(prev.At)
		}
	}
	return Succeeded(latency, duration).WithTime(now)
}

// Fail records a failed run.
func (j *Job) Fail(message, cause string, willRetry bool, now time.Time) error {
	return j.Transition(Failed(message, cause, willRetry).WithTime(now))
}

// Schedule moves a Failed job back to Scheduled.
func (j *Job) Schedule(at time.Time, reason string, now time.Time) error {
	return j.Transition(Scheduled(at, reason).WithTime(now))
}

// Delete retires the job.
func (j *Job) Delete(reason string, now time.Time) error {
	return j.Transition(Deleted(reason).WithTime(now))
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	c.Descriptor = j.Descriptor.Clone()
	c.history = slices.Clone(j.history)
	return &c
}

type plainJob Job

type jobJSON struct {
	*plainJob
	History []State `json:"history"`
}

// MarshalJSON includes the history next to the exported fields.
func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{plainJob: (*plainJob)(j), History: j.history})
}

// UnmarshalJSON restores a job produced by MarshalJSON.
func (j *Job) UnmarshalJSON(data []byte) error {
	aux := jobJSON{plainJob: (*plainJob)(j)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	j.history = aux.History
	return nil
}
