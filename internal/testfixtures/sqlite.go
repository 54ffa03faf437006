package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/sport-scheduler/internal/persistence"
	"github.com/example/sport-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness provides a migrated store backed by a temporary SQLite file
// for integration-style tests.
type SQLiteHarness struct {
	Store persistence.Store
	DSN   string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	dsn := filepath.Join(tb.TempDir(), "scheduler.db")
	ctx := context.Background()

	storage, err := sqlite.Open(ctx, sqlite.Config{DSN: dsn})
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store: storage,
		DSN:   dsn,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
