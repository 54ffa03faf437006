package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager applies pending migrations in version order.
type Manager struct {
	scanner  *Scanner
	executor *SQLiteExecutor
	logger   *slog.Logger
}

// NewManager creates a Manager. A nil logger uses slog.Default.
func NewManager(scanner *Scanner, executor *SQLiteExecutor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// Run executes all pending migrations in sequential order.
func (m *Manager) Run(ctx context.Context) error {
	started := time.Now()

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil
	}

	m.logger.InfoContext(ctx, "applying migrations", "current_version", status.CurrentVersion, "pending", len(status.Pending))
	for i, migration := range status.Pending {
		logger := m.logger.With("version", migration.Version, "description", migration.Description)
		if err := m.executor.Apply(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}
		logger.InfoContext(ctx, "migration applied", "step", i+1, "of", len(status.Pending))
	}

	m.logger.InfoContext(ctx, "migrations complete", "count", len(status.Pending), "elapsed", time.Since(started))
	return nil
}

// Status compares the migration files with the version table.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}
	available, err := m.scanner.Scan()
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}
	if err := validateSequence(available, applied); err != nil {
		return Status{}, err
	}

	appliedSet := make(map[int]bool, len(applied))
	status := Status{Applied: applied}
	for _, record := range applied {
		appliedSet[versionNumber(record.Version)] = true
		status.CurrentVersion = record.Version
	}
	for _, migration := range available {
		if !appliedSet[versionNumber(migration.Version)] {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}

// validateSequence rejects gaps in the available versions, applied versions
// without a file and files edited after they were applied.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	byVersion := make(map[int]Migration, len(available))
	for i, migration := range available {
		number := versionNumber(migration.Version)
		if i > 0 && number != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing migration version %03d", ErrVersionConflict, versionNumber(available[i-1].Version)+1)
		}
		byVersion[number] = migration
	}
	for _, record := range applied {
		migration, ok := byVersion[versionNumber(record.Version)]
		if !ok {
			return fmt.Errorf("%w: applied migration %s has no file", ErrVersionConflict, record.Version)
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			return NewMigrationError(record.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
