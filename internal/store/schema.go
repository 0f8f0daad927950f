package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema for the SQLite store.
const schemaV1 = `
-- One row per runner invocation
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    ego_vehicles INTEGER NOT NULL,
    opponent_vehicles INTEGER NOT NULL,
    fairness INTEGER NOT NULL DEFAULT 0,
    seed TEXT NOT NULL,  -- uint64 does not fit INTEGER
    ego_policy TEXT NOT NULL,
    opponent_policy TEXT NOT NULL,
    stop_rule TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

-- Episode outcomes
CREATE TABLE IF NOT EXISTS episodes (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    steps INTEGER NOT NULL,
    timestep INTEGER NOT NULL,
    ego_return REAL NOT NULL,
    opponent_return REAL NOT NULL,
    ego_clear INTEGER NOT NULL DEFAULT 0,
    opponent_clear INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    truncated INTEGER NOT NULL DEFAULT 0,
    initial_left TEXT NOT NULL,   -- JSON array
    initial_right TEXT NOT NULL,  -- JSON array
    final_render TEXT,
    created_at TEXT NOT NULL,
    UNIQUE (run_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run_id);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema creates the schema on a fresh database. On an existing one it
// checks integrity and refuses a schema newer than SchemaVersion.
func InitSchema(ctx context.Context, db *sql.DB) error {
	version, err := getSchemaVersion(ctx, db)
	if err != nil {
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("results database schema v%d is newer than this build (v%d); upgrade mergeq", version, SchemaVersion)
	}
	return nil
}

// getSchemaVersion fails when schema_version does not exist yet.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	return version, err
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// ValidateIntegrity runs PRAGMA integrity_check and PRAGMA foreign_key_check
// and fails if either reports a problem.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	problems, err := pragmaRows(ctx, db, "integrity_check")
	if err != nil {
		return err
	}
	if len(problems) != 1 || problems[0] != "ok" {
		return fmt.Errorf("integrity_check failed: %s", strings.Join(problems, "; "))
	}

	orphans, err := pragmaRows(ctx, db, "foreign_key_check")
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		return fmt.Errorf("foreign_key_check failed: %s", strings.Join(orphans, "; "))
	}
	return nil
}

// pragmaRows runs a checking pragma and flattens each result row into a
// space-separated string.
func pragmaRows(ctx context.Context, db *sql.DB, pragma string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA "+pragma)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", pragma, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s columns: %w", pragma, err)
	}

	var out []string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s result: %w", pragma, err)
		}
		fields := make([]string, len(cols))
		for i, v := range vals {
			fields[i] = v.String
		}
		out = append(out, strings.Join(fields, " "))
	}
	return out, rows.Err()
}
