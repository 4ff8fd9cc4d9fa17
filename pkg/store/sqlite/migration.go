package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const currentSchemaVersion = 1

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS runs (
				workflow_name  TEXT    NOT NULL,
				run_id         INTEGER NOT NULL,
				start_time     TEXT    NOT NULL,
				end_time       TEXT,
				status         TEXT    NOT NULL,
				"trigger"      TEXT    NOT NULL,
				nodes_ok       INTEGER NOT NULL DEFAULT 0,
				nodes_nok      INTEGER NOT NULL DEFAULT 0,
				nodes_skipped  INTEGER NOT NULL DEFAULT 0,
				variables_json TEXT    NOT NULL DEFAULT '{}',
				runbook_digest TEXT    NOT NULL DEFAULT '',
				executor_id    TEXT    NOT NULL DEFAULT '',
				PRIMARY KEY (workflow_name, run_id)
			);

			CREATE TABLE IF NOT EXISTS executions (
				workflow_name     TEXT    NOT NULL,
				run_id            INTEGER NOT NULL,
				node_id           TEXT    NOT NULL,
				attempt           INTEGER NOT NULL,
				start_time        TEXT    NOT NULL,
				end_time          TEXT,
				status            TEXT    NOT NULL,
				operator_decision TEXT    NOT NULL DEFAULT 'none',
				result_text       TEXT    NOT NULL DEFAULT '',
				exit_code         INTEGER,
				exception         TEXT    NOT NULL DEFAULT '',
				stdout            TEXT    NOT NULL DEFAULT '',
				stderr            TEXT    NOT NULL DEFAULT '',
				duration_ms       INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (workflow_name, run_id, node_id, attempt),
				FOREIGN KEY (workflow_name, run_id) REFERENCES runs (workflow_name, run_id)
			);
		`,
	}
}

// migrationManager handles schema creation and upgrades.
type migrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func newMigrationManager(logger *slog.Logger, db *sql.DB) *migrationManager {
	return &migrationManager{db: db, logger: logger, migrations: migrations()}
}

func (m *migrationManager) run(ctx context.Context) error {
	if err := m.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	if current >= currentSchemaVersion {
		return nil
	}

	m.logger.DebugContext(ctx, "Applying store migrations",
		"from", current, "to", currentSchemaVersion)

	for version := current + 1; version <= currentSchemaVersion; version++ {
		if err := m.apply(ctx, version); err != nil {
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
	}

	return nil
}

func (m *migrationManager) createMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`)

	return err
}

func (m *migrationManager) currentVersion(ctx context.Context) (int, error) {
	var version int

	err := m.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

func (m *migrationManager) apply(ctx context.Context, version int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.migrations[version]); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}

	return tx.Commit()
}
