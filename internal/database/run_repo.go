package database

import (
	"context"
	"fmt"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// InsertRun stores the finalized aggregates of a run
func (db *DB) InsertRun(ctx context.Context, run *models.IngestRun) error {
	query := `
		INSERT INTO ingest_runs (id, mailbox, kind, started_at, ended_at, status, stored, skipped, parsed, errors, tokens, cost_usd, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		run.ID,
		run.Mailbox,
		run.Kind,
		run.StartedAt.UTC(),
		run.EndedAt.UTC(),
		run.Status,
		run.Stored,
		run.Skipped,
		run.Parsed,
		run.Errors,
		run.Tokens,
		run.CostUSD,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*models.IngestRun, error) {
	runs := []*models.IngestRun{}
	query := `SELECT * FROM ingest_runs ORDER BY started_at DESC LIMIT ?`
	if err := db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
