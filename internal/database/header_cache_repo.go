package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// GetHeaderCache returns the cached heuristic verdict of a UID
func (db *DB) GetHeaderCache(ctx context.Context, mailbox string, uid uint32) (*models.HeaderCacheEntry, error) {
	var entry models.HeaderCacheEntry
	query := `SELECT * FROM header_cache WHERE mailbox = ? AND uid = ?`
	err := db.GetContext(ctx, &entry, query, mailbox, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get header cache: %w", err)
	}
	return &entry, nil
}

// GetHeaderCacheMany returns the cached verdicts for the given UIDs keyed by UID
func (db *DB) GetHeaderCacheMany(ctx context.Context, mailbox string, uids []uint32) (map[uint32]*models.HeaderCacheEntry, error) {
	result := make(map[uint32]*models.HeaderCacheEntry, len(uids))
	if len(uids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM header_cache WHERE mailbox = ? AND uid IN (?)`, mailbox, uids)
	if err != nil {
		return nil, fmt.Errorf("failed to build header cache query: %w", err)
	}

	var entries []*models.HeaderCacheEntry
	if err := db.SelectContext(ctx, &entries, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get header cache: %w", err)
	}
	for _, e := range entries {
		result[e.UID] = e
	}
	return result, nil
}

// SaveHeaderCache stores a freshly scored verdict. Promoted entries are never overwritten.
func (db *DB) SaveHeaderCache(ctx context.Context, entry *models.HeaderCacheEntry) error {
	query := `
		INSERT INTO header_cache (mailbox, uid, subject, from_email, date, size, decision, score, reason, model_version, promoted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, false, ?)
		ON CONFLICT(mailbox, uid) DO UPDATE SET
			subject = excluded.subject,
			from_email = excluded.from_email,
			date = excluded.date,
			size = excluded.size,
			decision = excluded.decision,
			score = excluded.score,
			reason = excluded.reason,
			model_version = excluded.model_version
		WHERE header_cache.promoted = false
	`
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, query,
		entry.Mailbox,
		entry.UID,
		entry.Subject,
		entry.FromEmail,
		entry.Date.UTC(),
		entry.Size,
		entry.Decision,
		entry.Score,
		entry.Reason,
		entry.ModelVersion,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save header cache: %w", err)
	}
	entry.CreatedAt = now
	return nil
}

// PromoteHeaderCache overrides the cached decision of a UID and pins it against rescoring.
// A fetchable decision marks the UID for the next live run even if the cursor is past it.
func (db *DB) PromoteHeaderCache(ctx context.Context, mailbox string, uid uint32, decision models.Decision) error {
	query := `UPDATE header_cache SET decision = ?, promoted = true, promoted_pending = ? WHERE mailbox = ? AND uid = ?`
	result, err := db.ExecContext(ctx, query, decision, decision != models.DecisionSkip, mailbox, uid)
	if err != nil {
		return fmt.Errorf("failed to promote header cache: %w", err)
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

// ListPromotedPending returns promoted UIDs at or below maxUID that still wait for a fetch
// and have no stored email, oldest first
func (db *DB) ListPromotedPending(ctx context.Context, mailbox string, maxUID uint32, limit int) ([]*models.HeaderCacheEntry, error) {
	entries := []*models.HeaderCacheEntry{}
	query := `
		SELECT * FROM header_cache h
		WHERE h.mailbox = ? AND h.uid <= ? AND h.promoted_pending = true
			AND NOT EXISTS (SELECT 1 FROM emails e WHERE e.mailbox = h.mailbox AND e.uid = h.uid)
		ORDER BY h.uid ASC
		LIMIT ?
	`
	if err := db.SelectContext(ctx, &entries, query, mailbox, maxUID, limit); err != nil {
		return nil, fmt.Errorf("failed to list promoted header cache: %w", err)
	}
	return entries, nil
}

// ClearPromotedPending marks a promoted UID as handled
func (db *DB) ClearPromotedPending(ctx context.Context, mailbox string, uid uint32) error {
	query := `UPDATE header_cache SET promoted_pending = false WHERE mailbox = ? AND uid = ?`
	if _, err := db.ExecContext(ctx, query, mailbox, uid); err != nil {
		return fmt.Errorf("failed to clear promoted flag: %w", err)
	}
	return nil
}

// ListHeaderCache returns the newest cached verdicts, optionally filtered by decision
func (db *DB) ListHeaderCache(ctx context.Context, decision models.Decision, limit int) ([]*models.HeaderCacheEntry, error) {
	entries := []*models.HeaderCacheEntry{}
	var err error
	if decision == "" {
		query := `SELECT * FROM header_cache ORDER BY uid DESC LIMIT ?`
		err = db.SelectContext(ctx, &entries, query, limit)
	} else {
		query := `SELECT * FROM header_cache WHERE decision = ? ORDER BY uid DESC LIMIT ?`
		err = db.SelectContext(ctx, &entries, query, decision, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list header cache: %w", err)
	}
	return entries, nil
}
