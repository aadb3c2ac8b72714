package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/metadata"
	"github.com/xraph/shepherd/recurring"
)

// ── Job rows ──────────────────────────────────────────────────────

const jobColumns = `id, version, signature, recurring_job_id, descriptor, history, created_at, updated_at`

type jobRow struct {
	ID             string
	Signature      string
	RecurringJobID string
	State          string
	ScheduledAt    *time.Time
	Descriptor     []byte
	History        []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
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
	return &jobRow{
		ID:             j.ID.String(),
		Signature:      j.Signature,
		RecurringJobID: j.RecurringJobID,
		State:          string(state.Name),
		ScheduledAt:    nullTime(state.ScheduledAt),
		Descriptor:     descriptor,
		History:        history,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}, nil
}

// scanJob scans a row selected with jobColumns.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		base       job.Job
		rawID      string
		descriptor []byte
		history    []byte
	)
	err := row.Scan(
		&rawID, &base.Version, &base.Signature, &base.RecurringJobID,
		&descriptor, &history, &base.CreatedAt, &base.UpdatedAt,
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
	base.CreatedAt = utc(base.CreatedAt)
	base.UpdatedAt = utc(base.UpdatedAt)
	return job.Restore(base, states), nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ── Recurring job rows ────────────────────────────────────────────

const recurringColumns = `id, descriptor, schedule, timezone, created_at, updated_at`

func scanRecurringJob(row pgx.Row) (*recurring.RecurringJob, error) {
	var (
		r          recurring.RecurringJob
		descriptor []byte
	)
	if err := row.Scan(&r.ID, &descriptor, &r.Schedule, &r.Timezone, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(descriptor, &r.Descriptor); err != nil {
		return nil, fmt.Errorf("decode descriptor of recurring job %s: %w", r.ID, err)
	}
	r.CreatedAt = utc(r.CreatedAt)
	r.UpdatedAt = utc(r.UpdatedAt)
	return &r, nil
}

// ── Server rows ───────────────────────────────────────────────────

const serverColumns = `id, name, worker_pool_size, poll_interval, first_heartbeat, last_heartbeat, running, metrics`

func scanServer(row pgx.Row) (*cluster.ServerHeartbeat, error) {
	var (
		hb           cluster.ServerHeartbeat
		rawID        string
		pollInterval int64
		metrics      []byte
	)
	err := row.Scan(
		&rawID, &hb.Name, &hb.WorkerPoolSize, &pollInterval,
		&hb.FirstHeartbeat, &hb.LastHeartbeat, &hb.Running, &metrics,
	)
	if err != nil {
		return nil, err
	}
	hb.ID, err = id.ParseServerID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse server id %q: %w", rawID, err)
	}
	if err := json.Unmarshal(metrics, &hb.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics of %s: %w", rawID, err)
	}
	hb.PollInterval = time.Duration(pollInterval)
	hb.FirstHeartbeat = utc(hb.FirstHeartbeat)
	hb.LastHeartbeat = utc(hb.LastHeartbeat)
	return &hb, nil
}

// ── Metadata rows ─────────────────────────────────────────────────

const metadataColumns = `name, owner, value, created_at, updated_at`

func scanMetadata(row pgx.Row) (*metadata.Metadata, error) {
	var m metadata.Metadata
	if err := row.Scan(&m.Name, &m.Owner, &m.Value, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Entity = shepherd.Entity{CreatedAt: utc(m.CreatedAt), UpdatedAt: utc(m.UpdatedAt)}
	return &m, nil
}
