package storage

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema step. Filenames follow
// NNN_name.sql and apply in version order.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies the alert store schema.
type Migrator struct {
	client *ClickHouseClient
}

func NewMigrator(client *ClickHouseClient) *Migrator {
	return &Migrator{client: client}
}

// Run applies every migration not yet recorded in schema_migrations.
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	migrations, err := embeddedMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		slog.Info("applying migration",
			"version", migration.Version,
			"name", migration.Name,
		)

		for _, stmt := range splitStatements(migration.SQL) {
			if err := m.client.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", migration.Version, migration.Name, err)
			}
		}

		err := m.client.Exec(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			uint32(migration.Version), migration.Name,
		)
		if err != nil {
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	return m.client.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version UInt32,
			name String,
			applied_at DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		ORDER BY version
	`)
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.client.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version uint32
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[int(version)] = true
	}
	return applied, rows.Err()
}

func embeddedMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%03d_%s", &version, &name); err != nil {
			continue
		}

		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// splitStatements breaks a migration file into statements on
// semicolons outside single-quoted literals.
func splitStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	inString := false

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" && !strings.HasPrefix(stmt, "--") {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, char := range sql {
		if char == '\'' {
			inString = !inString
		}
		if char == ';' && !inString {
			flush()
			continue
		}
		current.WriteRune(char)
	}
	flush()

	return statements
}
