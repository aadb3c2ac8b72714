package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/store"
)

// Collection name constants.
const (
	colJobs          = "shepherd_jobs"
	colRecurringJobs = "shepherd_recurring_jobs"
	colServers       = "shepherd_servers"
	colMetadata      = "shepherd_metadata"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: %s indexes: %w", shepherd.ErrMigrationFailed, col, err)
		}
		s.logger.Debug("ensured indexes", slog.String("collection", col), slog.Int("count", len(models)))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return shepherd.Unavailable(fmt.Errorf("shepherd/mongo: ping: %w", err))
	}
	return nil
}

// Close is a no-op because the caller owns the client.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// wrap annotates err with the failed operation and marks network failures
// as shepherd.ErrStorageUnavailable.
func wrap(op string, err error) error {
	wrapped := fmt.Errorf("shepherd/mongo: %s: %w", op, err)
	if mongod.IsNetworkError(err) || mongod.IsTimeout(err) {
		return shepherd.Unavailable(wrapped)
	}
	return wrapped
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "updated_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "scheduled_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "signature", Value: 1}, {Key: "state", Value: 1}}},
		},
		colServers: {
			{Keys: bson.D{{Key: "first_heartbeat", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "last_heartbeat", Value: 1}}},
		},
		colMetadata: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}, {Key: "owner", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
