package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/class-scheduler/internal/persistence"
	"github.com/example/class-scheduler/internal/persistence/memory"
	"github.com/example/class-scheduler/internal/persistence/sqlite"
)

// StoreBackend names a persistence.Store implementation under test.
type StoreBackend struct {
	Name string
	Open func(tb testing.TB) persistence.Store
}

// StoreBackends returns every store implementation so contract tests can run
// the same cases against each of them.
func StoreBackends() []StoreBackend {
	return []StoreBackend{
		{Name: "memory", Open: NewMemoryStore},
		{Name: "sqlite", Open: NewSQLiteStore},
	}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(tb testing.TB) persistence.Store {
	tb.Helper()
	store := memory.New()
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// NewSQLiteStore opens a migrated SQLite store in a temporary directory. The
// store is closed when the test finishes.
func NewSQLiteStore(tb testing.TB) persistence.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "scheduler.db")
	store, err := sqlite.Open(context.Background(), sqlite.DefaultConfig(path), nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// Seed writes records into store in one unit of work and fails the test on
// error.
func Seed(tb testing.TB, store persistence.Store, fn func(ctx context.Context, tx persistence.Tx) error) {
	tb.Helper()
	ctx := context.Background()
	if err := store.Atomically(ctx, func(tx persistence.Tx) error { return fn(ctx, tx) }); err != nil {
		tb.Fatalf("seed failed: %v", err)
	}
}
