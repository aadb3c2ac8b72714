package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
)

// StateName discriminates the members of State.
type StateName string

const (
	// StateScheduled means the job waits for its scheduled instant.
	StateScheduled StateName = "SCHEDULED"
	// StateEnqueued means the job is due and may be claimed by any server.
	StateEnqueued StateName = "ENQUEUED"
	// StateProcessing means a server claimed the job and is running it.
	StateProcessing StateName = "PROCESSING"
	// StateSucceeded means the job finished successfully.
	StateSucceeded StateName = "SUCCEEDED"
	// StateFailed means the last run failed.
	StateFailed StateName = "FAILED"
	// StateDeleted means the job was retired and awaits permanent removal.
	StateDeleted StateName = "DELETED"
)

// AllStates lists every state in lifecycle order.
var AllStates = []StateName{
	StateScheduled, StateEnqueued, StateProcessing,
	StateSucceeded, StateFailed, StateDeleted,
}

// ActiveStates are the states in which a job is still going to run.
var ActiveStates = []StateName{StateScheduled, StateEnqueued, StateProcessing}

// transitions lists the legal successor states of each state.
var transitions = map[StateName][]StateName{
	StateScheduled:  {StateEnqueued, StateDeleted},
	StateEnqueued:   {StateProcessing, StateDeleted},
	StateProcessing: {StateSucceeded, StateFailed, StateDeleted},
	StateFailed:     {StateScheduled, StateDeleted},
	StateSucceeded:  {StateDeleted},
}

// CanTransition reports whether a job in state from may move to state to.
func CanTransition(from, to StateName) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// State is one entry of a job's history. Name selects the active member;
// only the fields of that member are set. At is when the job entered the
// state; for Processing it is the start time of the run.
type State struct {
	Name StateName `json:"name" msgpack:"name"`
	At   time.Time `json:"at" msgpack:"at"`

	// Scheduled.
	ScheduledAt time.Time `json:"scheduled_at,omitzero" msgpack:"scheduled_at,omitempty"`

	// Scheduled and Deleted.
	Reason string `json:"reason,omitempty" msgpack:"reason,omitempty"`

	// Processing.
	ServerID id.ServerID `json:"server_id,omitzero" msgpack:"server_id,omitempty"`

	// Succeeded.
	Latency  time.Duration `json:"latency,omitempty" msgpack:"latency,omitempty"`
	Duration time.Duration `json:"duration,omitempty" msgpack:"duration,omitempty"`

	// Failed.
	Message   string `json:"message,omitempty" msgpack:"message,omitempty"`
	Cause     string `json:"cause,omitempty" msgpack:"cause,omitempty"`
	WillRetry bool   `json:"will_retry,omitempty" msgpack:"will_retry,omitempty"`
}

// Scheduled returns a state that waits until at.
func Scheduled(at time.Time, reason string) State {
	return State{Name: StateScheduled, ScheduledAt: at.UTC(), Reason: reason}
}

// Enqueued returns a state that makes the job claimable.
func Enqueued() State {
	return State{Name: StateEnqueued}
}

// Processing returns a state that records serverID as the owner of the run.
func Processing(serverID id.ServerID) State {
	return State{Name: StateProcessing, ServerID: serverID}
}

// Succeeded returns a terminal success state. Latency is the time the job
// waited between becoming due and starting; duration is the run time.
func Succeeded(latency, duration time.Duration) State {
	return State{Name: StateSucceeded, Latency: latency, Duration: duration}
}

// Failed returns a failure state.
func Failed(message, cause string, willRetry bool) State {
	return State{Name: StateFailed, Message: message, Cause: cause, WillRetry: willRetry}
}

// Deleted returns a retirement state.
func Deleted(reason string) State {
	return State{Name: StateDeleted, Reason: reason}
}

// WithTime returns a copy of s entered at t.
func (s State) WithTime(t time.Time) State {
	s.At = t.UTC()
	return s
}

func (s State) String() string {
	return string(s.Name)
}

// EncodeHistory renders a history in the canonical JSON form used by
// backends that store it as a single column or field.
func EncodeHistory(history []State) ([]byte, error) {
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("shepherd/job: encode history: %w", err)
	}
	return data, nil
}

// DecodeHistory parses a history produced by EncodeHistory.
func DecodeHistory(data []byte) ([]State, error) {
	var history []State
	if len(data) == 0 {
		return history, nil
	}
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("shepherd/job: decode history: %w", err)
	}
	return history, nil
}

func illegalTransition(from, to StateName) error {
	return fmt.Errorf("%w: %s -> %s", shepherd.ErrIllegalTransition, from, to)
}
