package models

import "time"

// RunKind distinguishes live tail sync from backfill batches
type RunKind string

const (
	RunLive     RunKind = "live"
	RunBackfill RunKind = "backfill"
)

// IngestRun is the finalized record of one run, written at run_end
type IngestRun struct {
	ID        string    `db:"id" json:"id"`
	Mailbox   string    `db:"mailbox" json:"mailbox"`
	Kind      RunKind   `db:"kind" json:"kind"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	EndedAt   time.Time `db:"ended_at" json:"ended_at"`
	Status    string    `db:"status" json:"status"` // done, error or cancelled
	Stored    int       `db:"stored" json:"stored"`
	Skipped   int       `db:"skipped" json:"skipped"` // header skips plus content-gate skips
	Parsed    int       `db:"parsed" json:"parsed"`
	Errors    int       `db:"errors" json:"errors"`
	Tokens    int       `db:"tokens" json:"tokens"`
	CostUSD   float64   `db:"cost_usd" json:"cost_usd"`
	Error     string    `db:"error" json:"error"`
}
