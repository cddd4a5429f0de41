package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one step of the local SQLite bootstrap.
type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

// migrations seed a local console database. Append only.
var migrations = []migration{
	{
		version:     1,
		description: "console tables",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(consoleSchemaSQL)
			return err
		},
	},
	{
		version:     2,
		description: "queue ordering index on document run state",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_document_run ON document(run, create_time)")
			return err
		},
	},
}

// Bootstrap creates the console tables in a SQLite database. A MySQL schema
// belongs to RAGFlow itself, so Bootstrap refuses to touch one.
func (s *Store) Bootstrap(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if s.dialect.driver != "sqlite3" {
		return fmt.Errorf("bootstrap: refusing to migrate a %s database", s.dialect.driver)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		slog.Info("applying migration", "version", m.version, "description", m.description)

		err := s.RunTransaction(ctx, func(tx *sql.Tx) error {
			if err := m.apply(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, description) VALUES (?, ?)",
				m.version, m.description); err != nil {
				return fmt.Errorf("recording migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
