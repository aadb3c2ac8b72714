package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return shepherd.Unavailable(fmt.Errorf("shepherd/redis: ping: %w", err))
	}
	return nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// errConflict aborts a WATCH transaction whose precondition failed.
var errConflict = errors.New("version conflict")

// isConflict reports an aborted optimistic transaction.
func isConflict(err error) bool {
	return errors.Is(err, errConflict) || errors.Is(err, goredis.TxFailedErr)
}

// wrap annotates err with the failed operation and marks network failures
// as shepherd.ErrStorageUnavailable.
func wrap(op string, err error) error {
	err = fmt.Errorf("shepherd/redis: %s: %w", op, err)
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, goredis.ErrClosed) {
		return shepherd.Unavailable(err)
	}
	return err
}
