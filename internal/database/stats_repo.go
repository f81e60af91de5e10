package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// EmailStats aggregate counters for the dashboard
type EmailStats struct {
	Total        int        `json:"total"`
	Parsed       int        `json:"parsed"`
	Pending      int        `json:"pending"`
	Error        int        `json:"error"`
	LastParsedAt *time.Time `json:"last_parsed_at,omitempty"`
	LastEmailAt  *time.Time `json:"last_email_at,omitempty"`
	Calls        int        `json:"openai_calls"`
	Tokens       int        `json:"tokens"`
	CostUSD      float64    `json:"cost_usd"`
}

// GetEmailStats computes counts over emails and exact usage totals over the call log
func (db *DB) GetEmailStats(ctx context.Context) (*EmailStats, error) {
	stats := &EmailStats{}

	var counts []struct {
		Status string `db:"parse_status"`
		N      int    `db:"n"`
	}
	query := `SELECT parse_status, COUNT(*) AS n FROM emails GROUP BY parse_status`
	if err := db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}
	for _, c := range counts {
		stats.Total += c.N
		switch models.ParseStatus(c.Status) {
		case models.ParseParsed:
			stats.Parsed = c.N
		case models.ParsePending:
			stats.Pending = c.N
		case models.ParseError:
			stats.Error = c.N
		}
	}

	var usage struct {
		Calls  int     `db:"calls"`
		Tokens int     `db:"tokens"`
		Cost   float64 `db:"cost"`
	}
	query = `SELECT COUNT(*) AS calls, COALESCE(SUM(total_tokens), 0) AS tokens, COALESCE(SUM(cost_usd), 0) AS cost FROM openai_calls`
	if err := db.GetContext(ctx, &usage, query); err != nil {
		return nil, fmt.Errorf("failed to sum usage: %w", err)
	}
	stats.Calls = usage.Calls
	stats.Tokens = usage.Tokens
	stats.CostUSD = usage.Cost

	// Plain column selects keep the DATETIME type so the driver hands back time.Time
	lastParsed, err := db.latestTime(ctx, `SELECT parsed_at FROM emails WHERE parse_status = 'parsed' ORDER BY parsed_at DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	stats.LastParsedAt = lastParsed

	lastEmail, err := db.latestTime(ctx, `SELECT date FROM emails ORDER BY date DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	stats.LastEmailAt = lastEmail

	return stats, nil
}

func (db *DB) latestTime(ctx context.Context, query string) (*time.Time, error) {
	var t sql.NullTime
	err := db.GetContext(ctx, &t, query)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !t.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest time: %w", err)
	}
	return &t.Time, nil
}
