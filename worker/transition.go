package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
)

// Transitions moves jobs between states and saves them, running the
// extension filters around every save: OnStateElection before and
// OnStateApplied after.
type Transitions struct {
	store      job.Store
	extensions *ext.Registry
	logger     *slog.Logger
}

// NewTransitions returns a Transitions writing to store. A nil registry
// runs no filters.
func NewTransitions(store job.Store, extensions *ext.Registry, logger *slog.Logger) *Transitions {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Transitions{store: store, extensions: extensions, logger: logger}
}

// Extensions returns the registry the filters come from.
func (t *Transitions) Extensions() *ext.Registry { return t.extensions }

// Create inserts a new job. Its initial state goes through the filters
// like any other transition; OnStateApplied sees an empty from.
func (t *Transitions) Create(ctx context.Context, j *job.Job) error {
	t.extensions.EmitStateElection(ctx, j, j.State())
	if err := t.store.SaveJob(ctx, j); err != nil {
		return err
	}
	t.extensions.EmitStateApplied(ctx, j, "")
	return nil
}

// Apply moves j to s and saves it. On error j must be discarded: its
// history holds s but the store does not.
func (t *Transitions) Apply(ctx context.Context, j *job.Job, s job.State) error {
	from := j.StateName()
	t.extensions.EmitStateElection(ctx, j, s)
	if err := j.Transition(s); err != nil {
		return err
	}
	if err := t.store.SaveJob(ctx, j); err != nil {
		return err
	}
	t.extensions.EmitStateApplied(ctx, j, from)
	return nil
}

// ApplyAll moves every job to the state next returns for it and saves them
// in one batch. It returns the jobs that were saved. Jobs that lost the
// version race or cannot legally move are left out. When the store fails
// part-way, the committed jobs are returned together with the error.
func (t *Transitions) ApplyAll(ctx context.Context, jobs []*job.Job, next func(*job.Job) job.State) ([]*job.Job, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	type pending struct {
		job  *job.Job
		from job.StateName
	}
	batch := make([]pending, 0, len(jobs))
	toSave := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		from := j.StateName()
		s := next(j)
		t.extensions.EmitStateElection(ctx, j, s)
		if err := j.Transition(s); err != nil {
			t.logger.Warn("skipping illegal transition",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		batch = append(batch, pending{job: j, from: from})
		toSave = append(toSave, j)
	}
	if len(toSave) == 0 {
		return nil, nil
	}

	var unsaved []id.JobID
	err := t.store.SaveJobs(ctx, toSave)
	var partial *shepherd.PartialSaveError
	switch {
	case err == nil:
	case errors.As(err, &partial):
		unsaved = partial.Unsaved
	case errors.Is(err, shepherd.ErrConcurrentModification):
		unsaved = shepherd.ConflictingJobs(err)
		t.logger.Debug("jobs modified concurrently",
			slog.Int("count", len(unsaved)),
		)
		err = nil
	default:
		return nil, err
	}

	saved := make([]*job.Job, 0, len(batch))
	for _, p := range batch {
		if isConflict(unsaved, p.job.ID) {
			continue
		}
		t.extensions.EmitStateApplied(ctx, p.job, p.from)
		saved = append(saved, p.job)
	}
	return saved, err
}

func isConflict(ids []id.JobID, jobID id.JobID) bool {
	for _, c := range ids {
		if c == jobID {
			return true
		}
	}
	return false
}
