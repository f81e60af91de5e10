package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// RecordOpenAICall appends a call row and adds its usage to the email's running totals
// in one transaction, so the denormalized copy never drifts from the call log.
func (db *DB) RecordOpenAICall(ctx context.Context, call *models.OpenAICall) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO openai_calls (email_id, model, prompt_tokens, completion_tokens, total_tokens, cost_usd, request_json, response_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		call.EmailID,
		call.Model,
		call.PromptTokens,
		call.CompletionTokens,
		call.TotalTokens,
		call.CostUSD,
		call.RequestJSON,
		call.ResponseJSON,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert openai call: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE emails SET
			prompt_tokens = prompt_tokens + ?,
			completion_tokens = completion_tokens + ?,
			total_tokens = total_tokens + ?,
			cost_usd = cost_usd + ?
		WHERE id = ?
	`, call.PromptTokens, call.CompletionTokens, call.TotalTokens, call.CostUSD, call.EmailID)
	if err != nil {
		return fmt.Errorf("failed to update email usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit openai call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	call.ID = id
	call.CreatedAt = now
	return nil
}

// ListCallsByEmail returns every call made for an email, oldest first
func (db *DB) ListCallsByEmail(ctx context.Context, emailID int64) ([]*models.OpenAICall, error) {
	calls := []*models.OpenAICall{}
	query := `SELECT * FROM openai_calls WHERE email_id = ? ORDER BY id ASC`
	if err := db.SelectContext(ctx, &calls, query, emailID); err != nil {
		return nil, fmt.Errorf("failed to list openai calls: %w", err)
	}
	return calls, nil
}

// SumCostByEmail returns the exact cost attributable to an email from the call log
func (db *DB) SumCostByEmail(ctx context.Context, emailID int64) (float64, error) {
	var total float64
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM openai_calls WHERE email_id = ?`
	if err := db.GetContext(ctx, &total, query, emailID); err != nil {
		return 0, fmt.Errorf("failed to sum email cost: %w", err)
	}
	return total, nil
}
