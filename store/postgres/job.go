package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
)

const insertJobSQL = `
	INSERT INTO shepherd_jobs (
		id, version, signature, recurring_job_id, state, scheduled_at,
		descriptor, history, created_at, updated_at
	) VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING`

const updateJobSQL = `
	UPDATE shepherd_jobs SET
		version = $2 + 1, signature = $3, recurring_job_id = $4, state = $5,
		scheduled_at = $6, descriptor = $7, history = $8, updated_at = $9
	WHERE id = $1 AND version = $2`

// saveStatement returns the versioned insert or update for j.
func saveStatement(j *job.Job) (string, []any, error) {
	row, err := toJobRow(j)
	if err != nil {
		return "", nil, err
	}
	if j.IsNew() {
		return insertJobSQL, []any{
			row.ID, row.Signature, row.RecurringJobID, row.State, row.ScheduledAt,
			row.Descriptor, row.History, row.CreatedAt, row.UpdatedAt,
		}, nil
	}
	return updateJobSQL, []any{
		row.ID, j.Version, row.Signature, row.RecurringJobID, row.State, row.ScheduledAt,
		row.Descriptor, row.History, row.UpdatedAt,
	}, nil
}

// SaveJob inserts or conditionally updates one job.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	query, args, err := saveStatement(j)
	if err != nil {
		return fmt.Errorf("shepherd/postgres: save job: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return wrap("save job", err)
	}
	if tag.RowsAffected() == 0 {
		return shepherd.NewConcurrentModificationError(j.ID)
	}
	j.Version++
	return nil
}

// SaveJobs saves all jobs in one transaction. Rows whose version no longer
// matches are skipped and reported; the others are committed.
func (s *Store) SaveJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, j := range jobs {
		query, args, err := saveStatement(j)
		if err != nil {
			return fmt.Errorf("shepherd/postgres: save jobs: %w", err)
		}
		batch.Queue(query, args...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap("save jobs: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	results := tx.SendBatch(ctx, batch)
	saved := make([]bool, len(jobs))
	for i := range jobs {
		tag, execErr := results.Exec()
		if execErr != nil {
			_ = results.Close()
			return wrap("save jobs", execErr)
		}
		saved[i] = tag.RowsAffected() == 1
	}
	if err := results.Close(); err != nil {
		return wrap("save jobs", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrap("save jobs: commit", err)
	}

	var failed []id.JobID
	for i, j := range jobs {
		if saved[i] {
			j.Version++
		} else {
			failed = append(failed, j.ID)
		}
	}
	if len(failed) > 0 {
		return shepherd.NewConcurrentModificationError(failed...)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM shepherd_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, shepherd.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return j, nil
}

// CountJobs returns the number of jobs in the given state.
func (s *Store) CountJobs(ctx context.Context, state job.StateName) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM shepherd_jobs WHERE state = $1`,
		string(state),
	).Scan(&count)
	if err != nil {
		return 0, wrap("count jobs", err)
	}
	return count, nil
}

// ListJobs returns jobs in the given state ordered by update time.
func (s *Store) ListJobs(ctx context.Context, state job.StateName, page job.Page) ([]*job.Job, error) {
	dir := direction(page.Order)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM shepherd_jobs
		WHERE state = $1
		ORDER BY updated_at %s, id %s
		LIMIT NULLIF($2::bigint, 0) OFFSET $3`, jobColumns, dir, dir),
		string(state), page.Limit, page.Offset,
	)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	return jobs, nil
}

// ListScheduledBefore returns Scheduled jobs due at or before t.
func (s *Store) ListScheduledBefore(ctx context.Context, t time.Time, page job.Page) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM shepherd_jobs
		WHERE state = 'SCHEDULED' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, id ASC
		LIMIT NULLIF($2::bigint, 0) OFFSET $3`,
		t.UTC(), page.Limit, page.Offset,
	)
	if err != nil {
		return nil, wrap("list scheduled jobs", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, wrap("list scheduled jobs", err)
	}
	return jobs, nil
}

// ListUpdatedBefore returns jobs in the given state updated before t.
func (s *Store) ListUpdatedBefore(ctx context.Context, state job.StateName, t time.Time, page job.Page) ([]*job.Job, error) {
	dir := direction(page.Order)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM shepherd_jobs
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at %s, id %s
		LIMIT NULLIF($3::bigint, 0) OFFSET $4`, jobColumns, dir, dir),
		string(state), t.UTC(), page.Limit, page.Offset,
	)
	if err != nil {
		return nil, wrap("list jobs updated before", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, wrap("list jobs updated before", err)
	}
	return jobs, nil
}

// DeleteJobPermanently removes a job.
func (s *Store) DeleteJobPermanently(ctx context.Context, jobID id.JobID) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM shepherd_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return 0, wrap("delete job", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteJobsUpdatedBefore removes jobs in the given state updated before t.
func (s *Store) DeleteJobsUpdatedBefore(ctx context.Context, state job.StateName, t time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM shepherd_jobs WHERE state = $1 AND updated_at < $2`,
		string(state), t.UTC(),
	)
	if err != nil {
		return 0, wrap("delete jobs updated before", err)
	}
	return int(tag.RowsAffected()), nil
}

// ExistsForSignature reports whether a job with the signature is in one of
// the given states.
func (s *Store) ExistsForSignature(ctx context.Context, signature string, states ...job.StateName) (bool, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM shepherd_jobs WHERE signature = $1 AND state = ANY($2))`,
		signature, names,
	).Scan(&exists)
	if err != nil {
		return false, wrap("exists for signature", err)
	}
	return exists, nil
}

func direction(o job.Order) string {
	if o == job.OrderDesc {
		return "DESC"
	}
	return "ASC"
}
