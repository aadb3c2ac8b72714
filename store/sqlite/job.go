package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// saveJob runs the versioned insert or update for j and reports whether the
// row was written. It does not touch j.Version.
func saveJob(ctx context.Context, db execer, j *job.Job) (bool, error) {
	row, err := toJobRow(j)
	if err != nil {
		return false, err
	}

	var res sql.Result
	if j.IsNew() {
		res, err = db.ExecContext(ctx, `
			INSERT INTO shepherd_jobs (
				id, version, signature, recurring_job_id, state, scheduled_at,
				descriptor, history, created_at, updated_at
			) VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			row.ID, row.Signature, row.RecurringJobID, row.State, row.ScheduledAt,
			row.Descriptor, row.History, row.CreatedAt, row.UpdatedAt,
		)
	} else {
		res, err = db.ExecContext(ctx, `
			UPDATE shepherd_jobs SET
				version = version + 1, signature = ?, recurring_job_id = ?, state = ?,
				scheduled_at = ?, descriptor = ?, history = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			row.Signature, row.RecurringJobID, row.State,
			row.ScheduledAt, row.Descriptor, row.History, row.UpdatedAt,
			row.ID, j.Version,
		)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveJob inserts or conditionally updates one job.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	ok, err := saveJob(ctx, s.db, j)
	if err != nil {
		return wrap("save job", err)
	}
	if !ok {
		return shepherd.NewConcurrentModificationError(j.ID)
	}
	j.Version++
	return nil
}

// SaveJobs saves all jobs in one transaction and reports the ones whose
// version no longer matched.
func (s *Store) SaveJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("save jobs: begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	saved := make([]bool, len(jobs))
	for i, j := range jobs {
		saved[i], err = saveJob(ctx, tx, j)
		if err != nil {
			return wrap("save jobs", err)
		}
	}
	if err := tx.Commit(); err != nil {
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
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM shepherd_jobs WHERE id = ?`, jobID.String())
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
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shepherd_jobs WHERE state = ?`, string(state)).Scan(&count)
	if err != nil {
		return 0, wrap("count jobs", err)
	}
	return count, nil
}

// ListJobs returns jobs in the given state ordered by update time.
func (s *Store) ListJobs(ctx context.Context, state job.StateName, page job.Page) ([]*job.Job, error) {
	dir := direction(page.Order)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM shepherd_jobs
		WHERE state = ?
		ORDER BY updated_at %s, id %s
		LIMIT ? OFFSET ?`, jobColumns, dir, dir),
		string(state), limit(page), page.Offset,
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM shepherd_jobs
		WHERE state = 'SCHEDULED' AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ? OFFSET ?`,
		nanos(t), limit(page), page.Offset,
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
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM shepherd_jobs
		WHERE state = ? AND updated_at < ?
		ORDER BY updated_at %s, id %s
		LIMIT ? OFFSET ?`, jobColumns, dir, dir),
		string(state), nanos(t), limit(page), page.Offset,
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM shepherd_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return 0, wrap("delete job", err)
	}
	return affected(res)
}

// DeleteJobsUpdatedBefore removes jobs in the given state updated before t.
func (s *Store) DeleteJobsUpdatedBefore(ctx context.Context, state job.StateName, t time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM shepherd_jobs WHERE state = ? AND updated_at < ?`, string(state), nanos(t))
	if err != nil {
		return 0, wrap("delete jobs updated before", err)
	}
	return affected(res)
}

// ExistsForSignature reports whether a job with the signature is in one of
// the given states.
func (s *Store) ExistsForSignature(ctx context.Context, signature string, states ...job.StateName) (bool, error) {
	if len(states) == 0 {
		return false, nil
	}
	args := make([]any, 0, len(states)+1)
	args = append(args, signature)
	for _, st := range states {
		args = append(args, string(st))
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT EXISTS(SELECT 1 FROM shepherd_jobs WHERE signature = ? AND state IN (%s))`,
		placeholders(len(states))), args...,
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

// limit maps "no limit" to SQLite's -1.
func limit(p job.Page) int {
	if p.Limit <= 0 {
		return -1
	}
	return p.Limit
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("rows affected", err)
	}
	return int(n), nil
}
