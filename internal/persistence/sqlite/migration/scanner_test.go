package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestScanner_Scan(t *testing.T) {
	tests := []struct {
		name          string
		files         fstest.MapFS
		expectedOrder []string
		expectError   error
	}{
		{
			name: "orders by numeric version",
			files: fstest.MapFS{
				"migrations/010_add_indexes.sql":    {Data: []byte("CREATE INDEX idx ON t(c);")},
				"migrations/002_add_sessions.sql":   {Data: []byte("CREATE TABLE sessions (id TEXT);")},
				"migrations/001_initial_schema.sql": {Data: []byte("CREATE TABLE activities (id TEXT);")},
			},
			expectedOrder: []string{"001", "002", "010"},
		},
		{
			name: "ignores non-SQL files",
			files: fstest.MapFS{
				"migrations/001_initial_schema.sql": {Data: []byte("CREATE TABLE activities (id TEXT);")},
				"migrations/README.md":              {Data: []byte("# notes")},
			},
			expectedOrder: []string{"001"},
		},
		{
			name: "rejects bad filenames",
			files: fstest.MapFS{
				"migrations/initial.sql": {Data: []byte("CREATE TABLE activities (id TEXT);")},
			},
			expectError: ErrInvalidMigrationFile,
		},
		{
			name: "rejects duplicate versions",
			files: fstest.MapFS{
				"migrations/001_a.sql":  {Data: []byte("CREATE TABLE a (id TEXT);")},
				"migrations/0001_b.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
			},
			expectError: ErrDuplicateVersion,
		},
		{
			name: "rejects comment-only files",
			files: fstest.MapFS{
				"migrations/001_empty.sql": {Data: []byte("-- nothing here\n")},
			},
			expectError: ErrInvalidMigrationFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			migrations, err := NewScanner(tt.files, "migrations").Scan()
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(migrations) != len(tt.expectedOrder) {
				t.Fatalf("expected %d migrations, got %d", len(tt.expectedOrder), len(migrations))
			}
			for i, version := range tt.expectedOrder {
				if migrations[i].Version != version {
					t.Fatalf("position %d: expected version %s, got %s", i, version, migrations[i].Version)
				}
				if migrations[i].Checksum == "" {
					t.Fatalf("expected checksum for %s", version)
				}
			}
		})
	}
}

func TestScanner_Description(t *testing.T) {
	files := fstest.MapFS{
		"m/001_initial_schema.sql": {Data: []byte("-- Description: Create core tables\nCREATE TABLE a (id TEXT);")},
		"m/002_add_index.sql":      {Data: []byte("CREATE INDEX idx ON a(id);")},
	}
	migrations, err := NewScanner(files, "m").Scan()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if migrations[0].Description != "Create core tables" {
		t.Fatalf("expected description from comment, got %q", migrations[0].Description)
	}
	if migrations[1].Description != "add index" {
		t.Fatalf("expected description from filename, got %q", migrations[1].Description)
	}
}

func TestSplitStatements(t *testing.T) {
	statements := splitStatements(`
-- Description: example
CREATE TABLE a (id TEXT);

-- trailing comment
CREATE INDEX idx_a ON a(id);
`)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(statements), statements)
	}
	if statements[1] != "CREATE INDEX idx_a ON a(id)" {
		t.Fatalf("unexpected statement %q", statements[1])
	}
}
