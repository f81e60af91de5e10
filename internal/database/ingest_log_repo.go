package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// InsertLogEntry appends an event and fills in its ID and timestamp
func (db *DB) InsertLogEntry(ctx context.Context, entry *models.IngestLogEntry) error {
	query := `
		INSERT INTO ingestion_log (created_at, phase, status, uid, message_id, subject, class, vendor, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		now,
		entry.Phase,
		entry.Status,
		entry.UID,
		entry.MessageID,
		entry.Subject,
		entry.Class,
		entry.Vendor,
		entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	entry.CreatedAt = now
	return nil
}

// ListLogAfter returns up to limit entries with id > cursor in id order
func (db *DB) ListLogAfter(ctx context.Context, cursor int64, limit int) ([]*models.IngestLogEntry, error) {
	entries := []*models.IngestLogEntry{}
	query := `SELECT * FROM ingestion_log WHERE id > ? ORDER BY id ASC LIMIT ?`
	if err := db.SelectContext(ctx, &entries, query, cursor, limit); err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	return entries, nil
}

// ListLogTail returns the last n entries in id order
func (db *DB) ListLogTail(ctx context.Context, n int) ([]*models.IngestLogEntry, error) {
	entries := []*models.IngestLogEntry{}
	query := `SELECT * FROM ingestion_log ORDER BY id DESC LIMIT ?`
	if err := db.SelectContext(ctx, &entries, query, n); err != nil {
		return nil, fmt.Errorf("failed to list log tail: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ListLogByStatus returns the newest entries of a phase with the given status
func (db *DB) ListLogByStatus(ctx context.Context, phase models.Phase, status string, limit int) ([]*models.IngestLogEntry, error) {
	entries := []*models.IngestLogEntry{}
	query := `SELECT * FROM ingestion_log WHERE phase = ? AND status = ? ORDER BY id DESC LIMIT ?`
	if err := db.SelectContext(ctx, &entries, query, phase, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	return entries, nil
}

// PruneLog deletes the oldest entries so that at most keep remain
func (db *DB) PruneLog(ctx context.Context, keep int) (int64, error) {
	query := `DELETE FROM ingestion_log WHERE id <= (SELECT COALESCE(MAX(id), 0) - ? FROM ingestion_log)`
	result, err := db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
