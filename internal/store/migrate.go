package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

// migration represents a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of SQLite schema migrations, each applied
// once and tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: agents, connections",
		SQL: `
		CREATE TABLE IF NOT EXISTS agents (
			account_id   TEXT PRIMARY KEY,
			private_key  TEXT NOT NULL DEFAULT '',
			profile      TEXT NOT NULL,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS connections (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id     TEXT NOT NULL UNIQUE,
			participant_a  TEXT NOT NULL,
			participant_b  TEXT NOT NULL,
			created_at     DATETIME NOT NULL,
			CHECK (participant_a <> participant_b)
		);
		CREATE INDEX IF NOT EXISTS idx_connections_a ON connections(participant_a);
		CREATE INDEX IF NOT EXISTS idx_connections_b ON connections(participant_b);
		`,
	},
	{
		Version:     2,
		Description: "v2: handshake_requests",
		SQL: `
		CREATE TABLE IF NOT EXISTS handshake_requests (
			id               TEXT NOT NULL,
			requester        TEXT NOT NULL,
			target           TEXT NOT NULL,
			sequence_number  INTEGER NOT NULL DEFAULT 0,
			state            TEXT NOT NULL,
			channel_id       TEXT NOT NULL DEFAULT '',
			requested_at     DATETIME NOT NULL,
			updated_at       DATETIME NOT NULL,
			PRIMARY KEY (requester, target)
		);
		CREATE INDEX IF NOT EXISTS idx_requests_target ON handshake_requests(target);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			logger.Warn("migration batch failed, applying statements one by one", "version", m.Version, "err", err)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

// applyMigrationStatements runs each statement on its own, skipping ones
// that were already applied.
func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// GetSchemaVersion returns the applied schema version, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name); err != nil {
		return 0, nil
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
