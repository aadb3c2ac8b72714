package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/recurring"
)

// SaveRecurringJob inserts or replaces a template, keeping the CreatedAt of
// an existing one.
func (s *Store) SaveRecurringJob(ctx context.Context, r *recurring.RecurringJob) error {
	key := recurringKey(r.ID)
	existing, err := s.getRecurring(ctx, key)
	if err != nil {
		return wrap("save recurring job", err)
	}

	now := time.Now().UTC()
	switch {
	case existing != nil:
		r.CreatedAt = existing.CreatedAt
	case r.CreatedAt.IsZero():
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	data, err := msgpack.Marshal(toRecurringRecord(r))
	if err != nil {
		return fmt.Errorf("shepherd/redis: encode recurring job %s: %w", r.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, key, data, 0)
		p.SAdd(ctx, recurringIDsKey, r.ID)
		return nil
	})
	if err != nil {
		return wrap("save recurring job", err)
	}
	return nil
}

// GetRecurringJob retrieves a template by ID.
func (s *Store) GetRecurringJob(ctx context.Context, recurringID string) (*recurring.RecurringJob, error) {
	r, err := s.getRecurring(ctx, recurringKey(recurringID))
	if err != nil {
		return nil, wrap("get recurring job", err)
	}
	if r == nil {
		return nil, shepherd.ErrRecurringJobNotFound
	}
	return r, nil
}

func (s *Store) getRecurring(ctx context.Context, key string) (*recurring.RecurringJob, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec recurringRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode recurring job: %w", err)
	}
	return rec.toRecurringJob(), nil
}

// ListRecurringJobs returns all templates ordered by ID.
func (s *Store) ListRecurringJobs(ctx context.Context) ([]*recurring.RecurringJob, error) {
	ids, err := s.client.SMembers(ctx, recurringIDsKey).Result()
	if err != nil {
		return nil, wrap("list recurring jobs", err)
	}
	slices.Sort(ids)

	result := make([]*recurring.RecurringJob, 0, len(ids))
	for _, recurringID := range ids {
		r, err := s.getRecurring(ctx, recurringKey(recurringID))
		if err != nil {
			return nil, wrap("list recurring jobs", err)
		}
		if r != nil {
			result = append(result, r)
		}
	}
	return result, nil
}

// CountRecurringJobs returns the number of templates.
func (s *Store) CountRecurringJobs(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, recurringIDsKey).Result()
	if err != nil {
		return 0, wrap("count recurring jobs", err)
	}
	return n, nil
}

// DeleteRecurringJob removes a template.
func (s *Store) DeleteRecurringJob(ctx context.Context, recurringID string) (int, error) {
	var del *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		del = p.Del(ctx, recurringKey(recurringID))
		p.SRem(ctx, recurringIDsKey, recurringID)
		return nil
	})
	if err != nil {
		return 0, wrap("delete recurring job", err)
	}
	return int(del.Val()), nil
}
