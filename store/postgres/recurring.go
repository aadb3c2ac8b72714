package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/recurring"
)

// SaveRecurringJob inserts or replaces a template. CreatedAt of an existing
// template is kept.
func (s *Store) SaveRecurringJob(ctx context.Context, r *recurring.RecurringJob) error {
	descriptor, err := json.Marshal(r.Descriptor)
	if err != nil {
		return fmt.Errorf("shepherd/postgres: encode descriptor of %s: %w", r.ID, err)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO shepherd_recurring_jobs (
			id, descriptor, schedule, timezone, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			descriptor = EXCLUDED.descriptor,
			schedule = EXCLUDED.schedule,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at`,
		r.ID, descriptor, r.Schedule, r.Timezone, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return wrap("save recurring job", err)
	}
	return nil
}

// GetRecurringJob retrieves a template by ID.
func (s *Store) GetRecurringJob(ctx context.Context, recurringID string) (*recurring.RecurringJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recurringColumns+` FROM shepherd_recurring_jobs WHERE id = $1`,
		recurringID,
	)
	r, err := scanRecurringJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, shepherd.ErrRecurringJobNotFound
		}
		return nil, wrap("get recurring job", err)
	}
	return r, nil
}

// ListRecurringJobs returns all templates ordered by ID.
func (s *Store) ListRecurringJobs(ctx context.Context) ([]*recurring.RecurringJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recurringColumns+` FROM shepherd_recurring_jobs ORDER BY id ASC`,
	)
	if err != nil {
		return nil, wrap("list recurring jobs", err)
	}
	defer rows.Close()

	result := make([]*recurring.RecurringJob, 0)
	for rows.Next() {
		r, scanErr := scanRecurringJob(rows)
		if scanErr != nil {
			return nil, wrap("scan recurring job", scanErr)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list recurring jobs", err)
	}
	return result, nil
}

// CountRecurringJobs returns the number of templates.
func (s *Store) CountRecurringJobs(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM shepherd_recurring_jobs`).Scan(&count); err != nil {
		return 0, wrap("count recurring jobs", err)
	}
	return count, nil
}

// DeleteRecurringJob removes a template.
func (s *Store) DeleteRecurringJob(ctx context.Context, recurringID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM shepherd_recurring_jobs WHERE id = $1`, recurringID)
	if err != nil {
		return 0, wrap("delete recurring job", err)
	}
	return int(tag.RowsAffected()), nil
}
