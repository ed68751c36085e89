package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] upgrades the schema from user_version i to i+1.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS contacts (
			public_key TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			last_seen_at INTEGER NOT NULL DEFAULT 0,
			rssi INTEGER NOT NULL DEFAULT 0,
			snr INTEGER NOT NULL DEFAULT 0,
			path_length INTEGER NOT NULL DEFAULT 0,
			has_path INTEGER NOT NULL DEFAULT 0,
			role INTEGER NOT NULL DEFAULT 0,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			is_discovered INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS channels (
			idx INTEGER PRIMARY KEY,
			channel_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			is_public INTEGER NOT NULL DEFAULT 0
		);`,
	},
	{
		`ALTER TABLE contacts ADD COLUMN latitude REAL NULL;`,
		`ALTER TABLE contacts ADD COLUMN longitude REAL NULL;`,
		`CREATE INDEX IF NOT EXISTS contacts_last_seen_at_idx ON contacts(last_seen_at DESC);`,
	},
}

// stateTables are emptied by ClearDatabase.
var stateTables = []string{"contacts", "channels"}

// SchemaVersion is the user_version of a fully migrated database.
var SchemaVersion = len(migrations)

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()

				return fmt.Errorf("migrate schema to v%d: %w", v+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, v+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("set schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}

	return nil
}
