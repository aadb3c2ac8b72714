package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a database/sql implementation of store.Store for SQLite.
type Store struct {
	db     *sql.DB
	owned  bool
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

// New creates a store on an open database. The caller owns the db
// lifecycle; Close does not close it.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database file at path with a busy timeout and WAL
// journaling. The returned store owns the connection. Writers are
// serialized on a single connection, which is how SQLite behaves anyway.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("shepherd/sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate applies pending migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS shepherd_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", shepherd.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		var applied bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM shepherd_migrations WHERE version = ?)`, m.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("%w: check %s: %w", shepherd.ErrMigrationFailed, m.Name, err)
		}
		if applied {
			continue
		}

		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("%w: %s: %w", shepherd.ErrMigrationFailed, m.Name, err)
		}
		s.logger.Info("applied migration", slog.String("name", m.Name), slog.String("version", m.Version))
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO shepherd_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().UnixNano(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return shepherd.Unavailable(fmt.Errorf("shepherd/sqlite: ping: %w", err))
	}
	return nil
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// wrap annotates err with the failed operation. A locked or closed database
// is reported as shepherd.ErrStorageUnavailable.
func wrap(op string, err error) error {
	err = fmt.Errorf("shepherd/sqlite: %s: %w", op, err)
	msg := err.Error()
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return shepherd.Unavailable(err)
	}
	return err
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
