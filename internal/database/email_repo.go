package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// CreateEmail stores a new pending email. A known message id yields ErrAlreadyExists.
func (db *DB) CreateEmail(ctx context.Context, email *models.Email) error {
	query := `
		INSERT OR IGNORE INTO emails (message_id, uid, mailbox, date, subject, from_email, to_email, vendor, class, body, raw_headers, raw_html, parse_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		email.MessageID,
		email.UID,
		email.Mailbox,
		email.Date.UTC(),
		email.Subject,
		email.FromEmail,
		email.ToEmail,
		email.Vendor,
		email.Class,
		email.Body,
		email.RawHeaders,
		email.RawHTML,
		models.ParsePending,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create email: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	email.ID = id
	email.ParseStatus = models.ParsePending
	email.CreatedAt = now
	return nil
}

// GetEmailByID returns an email by ID
func (db *DB) GetEmailByID(ctx context.Context, id int64) (*models.Email, error) {
	var email models.Email
	query := `SELECT * FROM emails WHERE id = ?`
	err := db.GetContext(ctx, &email, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return &email, nil
}

// EmailExists reports whether an email with the message id is stored
func (db *DB) EmailExists(ctx context.Context, messageID string) (bool, error) {
	var n int
	query := `SELECT COUNT(*) FROM emails WHERE message_id = ?`
	if err := db.GetContext(ctx, &n, query, messageID); err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return n > 0, nil
}

// ListEmails returns the newest emails, optionally filtered by parse status
func (db *DB) ListEmails(ctx context.Context, status models.ParseStatus, limit int) ([]*models.Email, error) {
	emails := []*models.Email{}
	var err error
	if status == "" {
		query := `SELECT * FROM emails ORDER BY date DESC, id DESC LIMIT ?`
		err = db.SelectContext(ctx, &emails, query, limit)
	} else {
		query := `SELECT * FROM emails WHERE parse_status = ? ORDER BY date DESC, id DESC LIMIT ?`
		err = db.SelectContext(ctx, &emails, query, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return emails, nil
}

// ListPendingEmails returns emails of a mailbox that still wait for extraction, oldest first
func (db *DB) ListPendingEmails(ctx context.Context, mailbox string, limit int) ([]*models.Email, error) {
	var emails []*models.Email
	query := `SELECT * FROM emails WHERE mailbox = ? AND parse_status = ? ORDER BY uid ASC LIMIT ?`
	err := db.SelectContext(ctx, &emails, query, mailbox, models.ParsePending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending emails: %w", err)
	}
	return emails, nil
}

// CountPendingEmails returns the extraction queue length of a mailbox
func (db *DB) CountPendingEmails(ctx context.Context, mailbox string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM emails WHERE mailbox = ? AND parse_status = ?`
	if err := db.GetContext(ctx, &n, query, mailbox, models.ParsePending); err != nil {
		return 0, fmt.Errorf("failed to count pending emails: %w", err)
	}
	return n, nil
}

// ParseOutcome is what a finished extraction writes onto the email row
type ParseOutcome struct {
	ParsedJSON string
	Class      models.Class
	Company    string
	Confidence float64
	Reason     string
	Model      string
}

// MarkEmailParsed moves a pending email to parsed
func (db *DB) MarkEmailParsed(ctx context.Context, id int64, out ParseOutcome) error {
	query := `
		UPDATE emails SET
			parse_status = ?,
			parsed_json = ?,
			parsed_at = ?,
			class = ?,
			vendor = CASE WHEN ? <> '' THEN ? ELSE vendor END,
			classification_confidence = ?,
			classification_reason = ?,
			openai_model = ?,
			parse_attempts = parse_attempts + 1,
			parse_raw = '',
			parse_error = ''
		WHERE id = ? AND parse_status = ?
	`
	result, err := db.ExecContext(ctx, query,
		models.ParseParsed,
		out.ParsedJSON,
		time.Now().UTC(),
		out.Class,
		out.Company, out.Company,
		out.Confidence,
		out.Reason,
		out.Model,
		id,
		models.ParsePending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email parsed: %w", err)
	}
	return expectOneRow(result)
}

// MarkEmailParseError moves a pending email to error, keeping the raw reply for inspection
func (db *DB) MarkEmailParseError(ctx context.Context, id int64, model, raw, reason string) error {
	query := `
		UPDATE emails SET
			parse_status = ?,
			parse_raw = ?,
			parse_error = ?,
			parsed_at = ?,
			openai_model = ?,
			parse_attempts = parse_attempts + 1
		WHERE id = ? AND parse_status = ?
	`
	result, err := db.ExecContext(ctx, query,
		models.ParseError,
		raw,
		reason,
		time.Now().UTC(),
		model,
		id,
		models.ParsePending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email parse error: %w", err)
	}
	return expectOneRow(result)
}

// ResetEmailForRetry puts a failed email back into the extraction queue
func (db *DB) ResetEmailForRetry(ctx context.Context, id int64) error {
	query := `UPDATE emails SET parse_status = ?, parse_error = '' WHERE id = ? AND parse_status = ?`
	result, err := db.ExecContext(ctx, query, models.ParsePending, id, models.ParseError)
	if err != nil {
		return fmt.Errorf("failed to reset email: %w", err)
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
