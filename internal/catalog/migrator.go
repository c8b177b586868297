package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration is one versioned schema change, loaded from an embedded file
// named NNN_description.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator brings the catalog schema up to date.
type Migrator struct {
	client *Client
}

func NewMigrator(client *Client) *Migrator {
	return &Migrator{client: client}
}

// Run applies every pending migration in version order. Each migration runs
// inside one transaction together with its bookkeeping row, so a failed
// migration leaves no partial state behind.
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

	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}

		slog.Info("applying catalog migration", "version", mig.Version, "name", mig.Name)

		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}

	return nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	return m.client.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range splitStatements(mig.SQL) {
			if strings.HasPrefix(stmt, "--") {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			mig.Version, mig.Name,
		)
		return err
	})
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.client.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.client.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// embeddedMigrations parses the embedded SQL files and returns them sorted
// by version. Files that do not match the NNN_name.sql pattern are skipped.
func embeddedMigrations() ([]Migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
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

		content, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// splitStatements cuts SQL text on semicolons outside single-quoted literals.
func splitStatements(sqlText string) []string {
	var out []string
	var buf strings.Builder
	quoted := false

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, s)
		}
		buf.Reset()
	}

	for _, r := range sqlText {
		switch {
		case r == '\'':
			quoted = !quoted
			buf.WriteRune(r)
		case r == ';' && !quoted:
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return out
}
