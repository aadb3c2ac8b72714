package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/metadata"
	"github.com/xraph/shepherd/recurring"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ── Job rows ──────────────────────────────────────────────────────

const jobColumns = `id, version, signature, recurring_job_id, descriptor, history, created_at, updated_at`

type jobRow struct {
	ID             string
	Signature      string
	RecurringJobID string
	State          string
	ScheduledAt    sql.NullInt64
	Descriptor     []byte
	History        []byte
	CreatedAt      int64
	UpdatedAt      int64
}

func toJobRow(j *job.Job) (*jobRow, error) {
	descriptor, err := json.Marshal(j.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor of %s: %w", j.ID, err)
	}
	history, err := job.EncodeHistory(j.History())
	if err != nil {
		return nil, err
	}
	state := j.State()
	row := &jobRow{
		ID:             j.ID.String(),
		Signature:      j.Signature,
		RecurringJobID: j.RecurringJobID,
		State:          string(state.Name),
		Descriptor:     descriptor,
		History:        history,
		CreatedAt:      nanos(j.CreatedAt),
		UpdatedAt:      nanos(j.UpdatedAt),
	}
	if !state.ScheduledAt.IsZero() {
		row.ScheduledAt = sql.NullInt64{Int64: nanos(state.ScheduledAt), Valid: true}
	}
	return row, nil
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		base                 job.Job
		rawID                string
		descriptor, history  []byte
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&rawID, &base.Version, &base.Signature, &base.RecurringJobID,
		&descriptor, &history, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	base.ID, err = id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", rawID, err)
	}
	if err := json.Unmarshal(descriptor, &base.Descriptor); err != nil {
		return nil, fmt.Errorf("decode descriptor of %s: %w", rawID, err)
	}
	states, err := job.DecodeHistory(history)
	if err != nil {
		return nil, err
	}
	base.CreatedAt = fromNanos(createdAt)
	base.UpdatedAt = fromNanos(updatedAt)
	return job.Restore(base, states), nil
}

func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close()
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ── Recurring job rows ────────────────────────────────────────────

const recurringColumns = `id, descriptor, schedule, timezone, created_at, updated_at`

func scanRecurringJob(row scanner) (*recurring.RecurringJob, error) {
	var (
		r                    recurring.RecurringJob
		descriptor           []byte
		createdAt, updatedAt int64
	)
	if err := row.Scan(&r.ID, &descriptor, &r.Schedule, &r.Timezone, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(descriptor, &r.Descriptor); err != nil {
		return nil, fmt.Errorf("decode descriptor of recurring job %s: %w", r.ID, err)
	}
	r.Entity = shepherd.Entity{CreatedAt: fromNanos(createdAt), UpdatedAt: fromNanos(updatedAt)}
	return &r, nil
}

// ── Server rows ───────────────────────────────────────────────────

const serverColumns = `id, name, worker_pool_size, poll_interval, first_heartbeat, last_heartbeat, running, metrics`

func scanServer(row scanner) (*cluster.ServerHeartbeat, error) {
	var (
		hb          cluster.ServerHeartbeat
		rawID       string
		poll        int64
		first, last int64
		metrics     []byte
	)
	if err := row.Scan(&rawID, &hb.Name, &hb.WorkerPoolSize, &poll, &first, &last, &hb.Running, &metrics); err != nil {
		return nil, err
	}
	var err error
	hb.ID, err = id.ParseServerID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse server id %q: %w", rawID, err)
	}
	if err := json.Unmarshal(metrics, &hb.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics of %s: %w", rawID, err)
	}
	hb.PollInterval = time.Duration(poll)
	hb.FirstHeartbeat = fromNanos(first)
	hb.LastHeartbeat = fromNanos(last)
	return &hb, nil
}

// ── Metadata rows ─────────────────────────────────────────────────

const metadataColumns = `name, owner, value, created_at, updated_at`

func scanMetadata(row scanner) (*metadata.Metadata, error) {
	var (
		m                    metadata.Metadata
		createdAt, updatedAt int64
	)
	if err := row.Scan(&m.Name, &m.Owner, &m.Value, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.Entity = shepherd.Entity{CreatedAt: fromNanos(createdAt), UpdatedAt: fromNanos(updatedAt)}
	return &m, nil
}
