package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// ClearDatabase empties every state table in one transaction and returns the
// number of removed rows. The schema and its version are kept.
func ClearDatabase(ctx context.Context, db *sql.DB) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database is not initialized")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var removed int64
	for _, table := range stateTables {
		//goland:noinspection SqlWithoutWhere
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table)
		if err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear tx: %w", err)
	}

	// Shrink the WAL so cleared rows do not linger on disk.
	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return removed, fmt.Errorf("checkpoint wal: %w", err)
	}

	return removed, nil
}
