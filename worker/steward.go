package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
)

// ErrInterrupted is the cancellation cause of a run stopped by the Steward.
// An interrupted run records no state.
var ErrInterrupted = errors.New("shepherd: job interrupted")

type execution struct {
	job    *job.Job
	cancel context.CancelCauseFunc
}

// Steward tracks the runs in flight on this server. It is safe for
// concurrent use.
type Steward struct {
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[id.JobID]*execution
	occupied int
	onIdle   func()
}

// NewSteward returns an empty steward.
func NewSteward(logger *slog.Logger) *Steward {
	if logger == nil {
		logger = slog.Default()
	}
	return &Steward{
		logger:   logger,
		inFlight: make(map[id.JobID]*execution),
	}
}

// OnIdle sets the function called, on its own goroutine, every time a
// worker frees up.
func (s *Steward) OnIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIdle = fn
}

// StartProcessing records that j occupies a worker. A run already
// registered for the same job is interrupted first.
func (s *Steward) StartProcessing(j *job.Job, cancel context.CancelCauseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.inFlight[j.ID]; ok {
		s.logger.Warn("job already in flight, interrupting older run",
			slog.String("job_id", j.ID.String()),
		)
		prev.cancel(ErrInterrupted)
	}
	s.inFlight[j.ID] = &execution{job: j, cancel: cancel}
	s.occupied++
}

// StopProcessing releases the worker j occupied and signals idleness.
func (s *Steward) StopProcessing(j *job.Job) {
	s.mu.Lock()
	if cur, ok := s.inFlight[j.ID]; ok && cur.job == j {
		delete(s.inFlight, j.ID)
	}
	if s.occupied > 0 {
		s.occupied--
	}
	onIdle := s.onIdle
	s.mu.Unlock()

	if onIdle != nil {
		go onIdle()
	}
}

// Interrupt cancels the run of jobID. It reports whether one was in flight.
func (s *Steward) Interrupt(jobID id.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.inFlight[jobID]
	if !ok {
		return false
	}
	e.cancel(ErrInterrupted)
	return true
}

// InterruptAll cancels every run in flight and returns how many there were.
func (s *Steward) InterruptAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.inFlight {
		e.cancel(ErrInterrupted)
	}
	return len(s.inFlight)
}

// InFlight returns the jobs currently running.
func (s *Steward) InFlight() []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*job.Job, 0, len(s.inFlight))
	for _, e := range s.inFlight {
		out = append(out, e.job)
	}
	return out
}

// Occupied returns the number of busy workers.
func (s *Steward) Occupied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupied
}
