package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/shepherd/store"
	"github.com/xraph/shepherd/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "shepherd.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestMigrationsAreRecorded(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM shepherd_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != len(migrations) {
		t.Fatalf("expected %d recorded migrations, got %d", len(migrations), n)
	}
}

func TestCloseLeavesBorrowedDBOpen(t *testing.T) {
	t.Parallel()
	owner := newTestStore(t)

	borrowed := New(owner.DB())
	if err := borrowed.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := owner.Ping(context.Background()); err != nil {
		t.Fatalf("expected shared db to stay open: %v", err)
	}
}
