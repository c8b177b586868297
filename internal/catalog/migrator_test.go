package catalog

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "single statement",
			sql:      "CREATE TABLE test (id INT)",
			expected: []string{"CREATE TABLE test (id INT)"},
		},
		{
			name:     "multiple statements",
			sql:      "CREATE TABLE a (id INT); CREATE TABLE b (id INT)",
			expected: []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"},
		},
		{
			name:     "statement with semicolon in string",
			sql:      "INSERT INTO t VALUES ('hello; world')",
			expected: []string{"INSERT INTO t VALUES ('hello; world')"},
		},
		{
			name:     "trailing semicolon",
			sql:      "CREATE TABLE test (id INT);",
			expected: []string{"CREATE TABLE test (id INT)"},
		},
		{
			name:     "empty string",
			sql:      "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitStatements(tt.sql)
			if len(result) != len(tt.expected) {
				t.Fatalf("splitStatements() returned %d statements, want %d: %v", len(result), len(tt.expected), result)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("statement %d = %q, want %q", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := embeddedMigrations()
	if err != nil {
		t.Fatalf("embeddedMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations found")
	}

	// Versions must be unique and sorted
	last := 0
	for _, mig := range migrations {
		if mig.Version <= last {
			t.Errorf("migration versions not strictly increasing: %d after %d", mig.Version, last)
		}
		last = mig.Version
		if mig.SQL == "" {
			t.Errorf("migration %d has empty SQL", mig.Version)
		}
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "db.internal"
	cfg.Password = "s3cret"

	dsn := cfg.DSN()
	for _, want := range []string{"host=db.internal", "port=5432", "dbname=argus", "password=s3cret", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN missing %q: %s", want, dsn)
		}
	}
}
