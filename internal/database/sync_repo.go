package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// GetSyncState returns the live sync cursor of a mailbox
func (db *DB) GetSyncState(ctx context.Context, mailbox string) (*models.MailboxSyncState, error) {
	var state models.MailboxSyncState
	query := `SELECT * FROM mailbox_sync_state WHERE mailbox = ?`
	err := db.GetContext(ctx, &state, query, mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &state, nil
}

// AdvanceLastUID moves the live cursor forward. A lower uid never regresses it.
func (db *DB) AdvanceLastUID(ctx context.Context, mailbox string, uid uint32) error {
	query := `
		INSERT INTO mailbox_sync_state (mailbox, last_uid, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(mailbox) DO UPDATE SET
			last_uid = MAX(mailbox_sync_state.last_uid, excluded.last_uid),
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query, mailbox, uid, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance last uid: %w", err)
	}
	return nil
}

// GetBackfillState returns the backfill window of a mailbox
func (db *DB) GetBackfillState(ctx context.Context, mailbox string) (*models.BackfillState, error) {
	var state models.BackfillState
	query := `SELECT * FROM backfill_state WHERE mailbox = ?`
	err := db.GetContext(ctx, &state, query, mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backfill state: %w", err)
	}
	return &state, nil
}

// SaveBackfillState creates or replaces the backfill window of a mailbox
func (db *DB) SaveBackfillState(ctx context.Context, state *models.BackfillState) error {
	query := `
		INSERT INTO backfill_state (mailbox, highest_uid_seen, lowest_uid_processed, active, started_at, model_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mailbox) DO UPDATE SET
			highest_uid_seen = excluded.highest_uid_seen,
			lowest_uid_processed = excluded.lowest_uid_processed,
			active = excluded.active,
			started_at = excluded.started_at,
			model_version = excluded.model_version,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, query,
		state.Mailbox,
		state.HighestUIDSeen,
		state.LowestUIDProcessed,
		state.Active,
		state.StartedAt,
		state.ModelVersion,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save backfill state: %w", err)
	}
	state.UpdatedAt = now
	return nil
}

// LowerBackfillCursor moves lowest_uid_processed down. A higher uid is ignored.
func (db *DB) LowerBackfillCursor(ctx context.Context, mailbox string, uid uint32) error {
	query := `
		UPDATE backfill_state
		SET lowest_uid_processed = MIN(lowest_uid_processed, ?), updated_at = ?
		WHERE mailbox = ?
	`
	result, err := db.ExecContext(ctx, query, uid, time.Now().UTC(), mailbox)
	if err != nil {
		return fmt.Errorf("failed to lower backfill cursor: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBackfillActive toggles the backfill job without touching its window
func (db *DB) SetBackfillActive(ctx context.Context, mailbox string, active bool) error {
	query := `UPDATE backfill_state SET active = ?, updated_at = ? WHERE mailbox = ?`
	result, err := db.ExecContext(ctx, query, active, time.Now().UTC(), mailbox)
	if err != nil {
		return fmt.Errorf("failed to set backfill active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
