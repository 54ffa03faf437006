// Package migration applies versioned SQL files to a SQLite database.
//
// Migration files follow the naming convention {version}_{description}.sql
// (e.g. "001_initial_schema.sql") and are read from an fs.FS, usually an
// embedded directory. Applied versions are tracked in the schema_migrations
// table together with the checksum of the file that was run, and each file is
// executed in its own transaction.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewSQLiteExecutor(db), logger)
//	if err := manager.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
