package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/metadata"
)

// SaveMetadata inserts or replaces a record.
func (s *Store) SaveMetadata(ctx context.Context, m *metadata.Metadata) error {
	key := metadataKey(m.Name)
	if existing, err := s.getMetadata(ctx, key, m.Owner); err != nil {
		return wrap("save metadata", err)
	} else if existing != nil {
		m.CreatedAt = existing.CreatedAt
	}
	metadata.Touch(m, time.Now().UTC())

	data, err := msgpack.Marshal(&metadataRecord{
		Name:      m.Name,
		Owner:     m.Owner,
		Value:     m.Value,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("shepherd/redis: encode metadata: %w", err)
	}
	if err := s.client.HSet(ctx, key, m.Owner, data).Err(); err != nil {
		return wrap("save metadata", err)
	}
	return nil
}

// GetMetadata returns one record.
func (s *Store) GetMetadata(ctx context.Context, name, owner string) (*metadata.Metadata, error) {
	m, err := s.getMetadata(ctx, metadataKey(name), owner)
	if err != nil {
		return nil, wrap("get metadata", err)
	}
	if m == nil {
		return nil, shepherd.ErrMetadataNotFound
	}
	return m, nil
}

func (s *Store) getMetadata(ctx context.Context, key, owner string) (*metadata.Metadata, error) {
	data, err := s.client.HGet(ctx, key, owner).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeMetadata(data)
}

// ListMetadata returns every record with the given name ordered by owner.
func (s *Store) ListMetadata(ctx context.Context, name string) ([]*metadata.Metadata, error) {
	all, err := s.client.HGetAll(ctx, metadataKey(name)).Result()
	if err != nil {
		return nil, wrap("list metadata", err)
	}
	result := make([]*metadata.Metadata, 0, len(all))
	for _, raw := range all {
		m, err := decodeMetadata([]byte(raw))
		if err != nil {
			return nil, wrap("list metadata", err)
		}
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b *metadata.Metadata) int { return cmp.Compare(a.Owner, b.Owner) })
	return result, nil
}

// DeleteMetadata removes every record with the given name.
func (s *Store) DeleteMetadata(ctx context.Context, name string) (int, error) {
	var count *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		count = p.HLen(ctx, metadataKey(name))
		p.Del(ctx, metadataKey(name))
		return nil
	})
	if err != nil {
		return 0, wrap("delete metadata", err)
	}
	return int(count.Val()), nil
}

func decodeMetadata(data []byte) (*metadata.Metadata, error) {
	var rec metadataRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return rec.toMetadata(), nil
}
