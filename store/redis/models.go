package redis

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
	"github.com/xraph/shepherd/job"
	"github.com/xraph/shepherd/metadata"
	"github.com/xraph/shepherd/recurring"
)

// ── Job record ────────────────────────────────────────────────────

type jobRecord struct {
	ID             string         `msgpack:"id"`
	Version        int            `msgpack:"version"`
	Signature      string         `msgpack:"signature"`
	RecurringJobID string         `msgpack:"recurring_job_id,omitempty"`
	State          job.StateName  `msgpack:"state"`
	ScheduledAt    time.Time      `msgpack:"scheduled_at,omitempty"`
	Descriptor     job.Descriptor `msgpack:"descriptor"`
	History        []byte         `msgpack:"history"`
	CreatedAt      time.Time      `msgpack:"created_at"`
	UpdatedAt      time.Time      `msgpack:"updated_at"`
}

// toJobRecord encodes j as it will be stored after a successful save.
func toJobRecord(j *job.Job) (*jobRecord, error) {
	history, err := job.EncodeHistory(j.History())
	if err != nil {
		return nil, err
	}
	state := j.State()
	return &jobRecord{
		ID:             j.ID.String(),
		Version:        j.Version + 1,
		Signature:      j.Signature,
		RecurringJobID: j.RecurringJobID,
		State:          state.Name,
		ScheduledAt:    state.ScheduledAt,
		Descriptor:     j.Descriptor,
		History:        history,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}, nil
}

func (r *jobRecord) toJob() (*job.Job, error) {
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", r.ID, err)
	}
	states, err := job.DecodeHistory(r.History)
	if err != nil {
		return nil, err
	}
	return job.Restore(job.Job{
		Entity:         shepherd.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:             jobID,
		Version:        r.Version,
		Signature:      r.Signature,
		RecurringJobID: r.RecurringJobID,
		Descriptor:     r.Descriptor,
	}, states), nil
}

func decodeJobRecord(data []byte) (*jobRecord, error) {
	var r jobRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return &r, nil
}

// score is the sorted set score of t. Microseconds fit a float64 exactly.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// ── Recurring job record ──────────────────────────────────────────

type recurringRecord struct {
	ID         string         `msgpack:"id"`
	Descriptor job.Descriptor `msgpack:"descriptor"`
	Schedule   string         `msgpack:"schedule"`
	Timezone   string         `msgpack:"timezone,omitempty"`
	CreatedAt  time.Time      `msgpack:"created_at"`
	UpdatedAt  time.Time      `msgpack:"updated_at"`
}

func toRecurringRecord(r *recurring.RecurringJob) *recurringRecord {
	return &recurringRecord{
		ID:         r.ID,
		Descriptor: r.Descriptor,
		Schedule:   r.Schedule,
		Timezone:   r.Timezone,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (r *recurringRecord) toRecurringJob() *recurring.RecurringJob {
	return &recurring.RecurringJob{
		Entity:     shepherd.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		ID:         r.ID,
		Descriptor: r.Descriptor,
		Schedule:   r.Schedule,
		Timezone:   r.Timezone,
	}
}

// ── Server record ─────────────────────────────────────────────────

type serverRecord struct {
	ID             string                  `msgpack:"id"`
	Name           string                  `msgpack:"name"`
	WorkerPoolSize int                     `msgpack:"worker_pool_size"`
	PollInterval   time.Duration           `msgpack:"poll_interval"`
	FirstHeartbeat time.Time               `msgpack:"first_heartbeat"`
	LastHeartbeat  time.Time               `msgpack:"last_heartbeat"`
	Running        bool                    `msgpack:"running"`
	Metrics        cluster.ResourceMetrics `msgpack:"metrics"`
}

func toServerRecord(hb *cluster.ServerHeartbeat) *serverRecord {
	return &serverRecord{
		ID:             hb.ID.String(),
		Name:           hb.Name,
		WorkerPoolSize: hb.WorkerPoolSize,
		PollInterval:   hb.PollInterval,
		FirstHeartbeat: hb.FirstHeartbeat,
		LastHeartbeat:  hb.LastHeartbeat,
		Running:        hb.Running,
		Metrics:        hb.Metrics,
	}
}

func (r *serverRecord) toHeartbeat() (*cluster.ServerHeartbeat, error) {
	serverID, err := id.ParseServerID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse server id %q: %w", r.ID, err)
	}
	return &cluster.ServerHeartbeat{
		ID:             serverID,
		Name:           r.Name,
		WorkerPoolSize: r.WorkerPoolSize,
		PollInterval:   r.PollInterval,
		FirstHeartbeat: r.FirstHeartbeat.UTC(),
		LastHeartbeat:  r.LastHeartbeat.UTC(),
		Running:        r.Running,
		Metrics:        r.Metrics,
	}, nil
}

// ── Metadata record ───────────────────────────────────────────────

type metadataRecord struct {
	Name      string    `msgpack:"name"`
	Owner     string    `msgpack:"owner"`
	Value     string    `msgpack:"value"`
	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

func (r *metadataRecord) toMetadata() *metadata.Metadata {
	return &metadata.Metadata{
		Entity: shepherd.Entity{CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()},
		Name:   r.Name,
		Owner:  r.Owner,
		Value:  r.Value,
	}
}
