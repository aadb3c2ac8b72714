package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/recurring"
)

// SaveRecurringJob inserts or replaces a template.
func (s *Store) SaveRecurringJob(ctx context.Context, r *recurring.RecurringJob) error {
	descriptor, err := json.Marshal(r.Descriptor)
	if err != nil {
		return fmt.Errorf("shepherd/sqlite: encode descriptor of %s: %w", r.ID, err)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shepherd_recurring_jobs (id, descriptor, schedule, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			descriptor = excluded.descriptor,
			schedule = excluded.schedule,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		r.ID, descriptor, r.Schedule, r.Timezone, nanos(r.CreatedAt), nanos(r.UpdatedAt),
	)
	if err != nil {
		return wrap("save recurring job", err)
	}
	return nil
}

// GetRecurringJob retrieves a template by ID.
func (s *Store) GetRecurringJob(ctx context.Context, recurringID string) (*recurring.RecurringJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` FROM shepherd_recurring_jobs WHERE id = ?`, recurringID)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recurringColumns+` FROM shepherd_recurring_jobs ORDER BY id ASC`)
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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shepherd_recurring_jobs`).Scan(&count); err != nil {
		return 0, wrap("count recurring jobs", err)
	}
	return count, nil
}

// DeleteRecurringJob removes a template.
func (s *Store) DeleteRecurringJob(ctx context.Context, recurringID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shepherd_recurring_jobs WHERE id = ?`, recurringID)
	if err != nil {
		return 0, wrap("delete recurring job", err)
	}
	return affected(res)
}
