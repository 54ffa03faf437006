// Package sqlite implements persistence.Store on SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/sport-scheduler/internal/persistence"
	"github.com/example/sport-scheduler/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timeLayout is fixed width so that TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Config describes how to open the database.
type Config struct {
	// DSN is a file path or file: URI understood by modernc.org/sqlite.
	DSN          string
	MaxOpenConns int
	BusyTimeout  time.Duration
	Logger       *slog.Logger
}

// Storage is the SQLite-backed persistence.Store.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ persistence.Store = (*Storage)(nil)

// Open connects to the database described by cfg. Call Migrate before use.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlite: DSN is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", withPragmas(cfg.DSN, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &Storage{db: db, logger: logger.With("component", "sqlite")}, nil
}

// withPragmas enables foreign keys, a busy timeout and immediate write
// transactions on every pooled connection.
func withPragmas(dsn string, busyTimeout time.Duration) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Set("_txlock", "immediate")

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params.Encode()
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(s.db),
		s.logger,
	)
	return manager.Run(ctx)
}

// Close closes the underlying connection pool.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection pool for diagnostics.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// withTx runs fn in a transaction, rolling back when fn fails or panics.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// mapError translates driver errors into persistence sentinels while keeping
// the driver error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var driverErr *moderncsqlite.Error
	if !errors.As(err, &driverErr) {
		return err
	}

	switch driverErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %v", persistence.ErrForeignKeyViolation, err)
	case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}

	switch driverErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", persistence.ErrConflict, err)
	case sqlite3.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeWeekdays encodes weekdays as a bitmask with bit n set for time.Weekday(n).
func encodeWeekdays(weekdays []time.Weekday) int64 {
	var mask int64
	for _, day := range weekdays {
		if day >= time.Sunday && day <= time.Saturday {
			mask |= 1 << uint(day)
		}
	}
	return mask
}

// decodeWeekdays decodes a bitmask produced by encodeWeekdays in Monday-first order.
func decodeWeekdays(mask int64) []time.Weekday {
	var weekdays []time.Weekday
	for i := 1; i <= 7; i++ {
		day := time.Weekday(i % 7)
		if mask&(1<<uint(day)) != 0 {
			weekdays = append(weekdays, day)
		}
	}
	return weekdays
}
