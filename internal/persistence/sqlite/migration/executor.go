package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// SQLiteExecutor runs migrations and tracks them in schema_migrations.
type SQLiteExecutor struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteExecutor creates a new SQLite migration executor
func NewSQLiteExecutor(db *sql.DB) *SQLiteExecutor {
	return &SQLiteExecutor{db: db, now: time.Now}
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist
func (e *SQLiteExecutor) InitializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms INTEGER NOT NULL DEFAULT 0
		)`
	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

// Apply runs every statement of migration and records it, all in one transaction.
func (e *SQLiteExecutor) Apply(ctx context.Context, migration Migration) (err error) {
	statements := splitStatements(migration.SQL)
	if len(statements) == 0 {
		return NewMigrationError(migration.Version, migration.FilePath, "parse SQL",
			fmt.Errorf("%w: no SQL statements", ErrInvalidMigrationFile))
	}

	started := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return NewMigrationError(migration.Version, migration.FilePath,
				fmt.Sprintf("execute statement %d", i+1), err)
		}
	}

	finished := e.now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`,
		migration.Version,
		finished.UTC().Format(time.RFC3339),
		migration.Checksum,
		finished.Sub(started).Milliseconds(),
	)
	if err != nil {
		return NewMigrationError(migration.Version, migration.FilePath, "record migration", err)
	}

	if err = tx.Commit(); err != nil {
		return NewMigrationError(migration.Version, migration.FilePath, "commit", err)
	}
	return nil
}

// Applied returns the recorded migrations ordered by version.
func (e *SQLiteExecutor) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			record    AppliedMigration
			appliedAt string
			elapsedMs int64
		)
		if err := rows.Scan(&record.Version, &appliedAt, &record.Checksum, &elapsedMs); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		if record.AppliedAt, err = time.Parse(time.RFC3339, appliedAt); err != nil {
			return nil, fmt.Errorf("parse applied_at for %s: %w", record.Version, err)
		}
		record.ExecutionTime = time.Duration(elapsedMs) * time.Millisecond
		applied = append(applied, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	sortApplied(applied)
	return applied, nil
}

func sortApplied(applied []AppliedMigration) {
	sort.Slice(applied, func(i, j int) bool {
		return versionNumber(applied[i].Version) < versionNumber(applied[j].Version)
	})
}
