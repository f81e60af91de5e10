package database

import (
	"context"
	"fmt"
)

// purgeTables lists every ingestion table. AUTOINCREMENT sequences are left alone so log
// ids keep growing and stale replay cursors stay valid.
var purgeTables = []string{
	"openai_calls",
	"emails",
	"header_cache",
	"ingestion_log",
	"mailbox_sync_state",
	"backfill_state",
	"ingest_runs",
}

// DeleteAll purges all ingestion data
func (db *DB) DeleteAll(ctx context.Context) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range purgeTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to purge %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}
