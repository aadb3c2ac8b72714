package mongo

import (
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

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID             string     `bson:"_id"`
	Version        int        `bson:"version"`
	Signature      string     `bson:"signature"`
	RecurringJobID string     `bson:"recurring_job_id"`
	State          string     `bson:"state"`
	ScheduledAt    *time.Time `bson:"scheduled_at,omitempty"`
	Descriptor     []byte     `bson:"descriptor"`
	History        []byte     `bson:"history"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

// toJobModel encodes j as it will be stored after a successful save.
func toJobModel(j *job.Job) (*jobModel, error) {
	descriptor, err := json.Marshal(j.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor of %s: %w", j.ID, err)
	}
	history, err := job.EncodeHistory(j.History())
	if err != nil {
		return nil, err
	}
	state := j.State()
	m := &jobModel{
		ID:             j.ID.String(),
		Version:        j.Version + 1,
		Signature:      j.Signature,
		RecurringJobID: j.RecurringJobID,
		State:          string(state.Name),
		Descriptor:     descriptor,
		History:        history,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if !state.ScheduledAt.IsZero() {
		at := state.ScheduledAt
		m.ScheduledAt = &at
	}
	return m, nil
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", m.ID, err)
	}
	base := job.Job{
		Entity:         shepherd.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:             jobID,
		Version:        m.Version,
		Signature:      m.Signature,
		RecurringJobID: m.RecurringJobID,
	}
	if err := json.Unmarshal(m.Descriptor, &base.Descriptor); err != nil {
		return nil, fmt.Errorf("decode descriptor of %s: %w", m.ID, err)
	}
	states, err := job.DecodeHistory(m.History)
	if err != nil {
		return nil, err
	}
	return job.Restore(base, states), nil
}

// ── Recurring job model ───────────────────────────────────────────

type recurringModel struct {
	ID         string    `bson:"_id"`
	Descriptor []byte    `bson:"descriptor"`
	Schedule   string    `bson:"schedule"`
	Timezone   string    `bson:"timezone"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func fromRecurringModel(m *recurringModel) (*recurring.RecurringJob, error) {
	r := &recurring.RecurringJob{
		Entity:   shepherd.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:       m.ID,
		Schedule: m.Schedule,
		Timezone: m.Timezone,
	}
	if err := json.Unmarshal(m.Descriptor, &r.Descriptor); err != nil {
		return nil, fmt.Errorf("decode descriptor of recurring job %s: %w", m.ID, err)
	}
	return r, nil
}

// ── Server model ──────────────────────────────────────────────────

type metricsModel struct {
	SystemTotalMemory uint64  `bson:"system_total_memory"`
	SystemFreeMemory  uint64  `bson:"system_free_memory"`
	SystemCPULoad     float64 `bson:"system_cpu_load"`
	ProcessAllocated  uint64  `bson:"process_allocated"`
	Goroutines        int     `bson:"goroutines"`
}

type serverModel struct {
	ID             string       `bson:"_id"`
	Name           string       `bson:"name"`
	WorkerPoolSize int          `bson:"worker_pool_size"`
	PollInterval   int64        `bson:"poll_interval"`
	FirstHeartbeat time.Time    `bson:"first_heartbeat"`
	LastHeartbeat  time.Time    `bson:"last_heartbeat"`
	Running        bool         `bson:"running"`
	Metrics        metricsModel `bson:"metrics"`
}

func toMetricsModel(m cluster.ResourceMetrics) metricsModel {
	return metricsModel(m)
}

func toServerModel(hb *cluster.ServerHeartbeat) *serverModel {
	return &serverModel{
		ID:             hb.ID.String(),
		Name:           hb.Name,
		WorkerPoolSize: hb.WorkerPoolSize,
		PollInterval:   int64(hb.PollInterval),
		FirstHeartbeat: hb.FirstHeartbeat,
		LastHeartbeat:  hb.LastHeartbeat,
		Running:        hb.Running,
		Metrics:        toMetricsModel(hb.Metrics),
	}
}

func fromServerModel(m *serverModel) (*cluster.ServerHeartbeat, error) {
	serverID, err := id.ParseServerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse server id %q: %w", m.ID, err)
	}
	return &cluster.ServerHeartbeat{
		ID:             serverID,
		Name:           m.Name,
		WorkerPoolSize: m.WorkerPoolSize,
		PollInterval:   time.Duration(m.PollInterval),
		FirstHeartbeat: m.FirstHeartbeat.UTC(),
		LastHeartbeat:  m.LastHeartbeat.UTC(),
		Running:        m.Running,
		Metrics:        cluster.ResourceMetrics(m.Metrics),
	}, nil
}

// ── Metadata model ────────────────────────────────────────────────

type metadataModel struct {
	Name      string    `bson:"name"`
	Owner     string    `bson:"owner"`
	Value     string    `bson:"value"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func fromMetadataModel(m *metadataModel) *metadata.Metadata {
	return &metadata.Metadata{
		Entity: shepherd.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		Name:   m.Name,
		Owner:  m.Owner,
		Value:  m.Value,
	}
}
