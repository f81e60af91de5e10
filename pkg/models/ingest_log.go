package models

import "time"

// Phase of the ingestion state machine
type Phase string

const (
	PhaseSchemaEnsure Phase = "schema_ensure"
	PhaseRunStart     Phase = "run_start"
	PhaseIMAPConnect  Phase = "imap_connect"
	PhaseMailboxOpen  Phase = "mailbox_open"
	PhaseSearch       Phase = "search"
	PhaseFetch        Phase = "fetch"
	PhaseParse        Phase = "parse"
	PhaseRunEnd       Phase = "run_end"
	PhaseBackfill     Phase = "backfill"
)

// Log entry statuses
const (
	StatusStart           = "start"
	StatusDone            = "done"
	StatusError           = "error"
	StatusStored          = "stored"
	StatusSkipHeader      = "skip_header"
	StatusSkipNonRelevant = "skip_non_relevant"
	StatusDuplicate       = "duplicate"
	StatusRetry           = "retry"
	StatusParsed          = "parsed"
	StatusCancelled       = "cancelled"
)

// IngestLogEntry is one append-only pipeline event. ID doubles as the replay cursor.
type IngestLogEntry struct {
	ID        int64     `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Phase     Phase     `db:"phase" json:"phase"`
	Status    string    `db:"status" json:"status"`
	UID       uint32    `db:"uid" json:"uid,omitempty"`
	MessageID string    `db:"message_id" json:"message_id,omitempty"`
	Subject   string    `db:"subject" json:"subject,omitempty"`
	Class     string    `db:"class" json:"class,omitempty"`
	Vendor    string    `db:"vendor" json:"vendor,omitempty"`
	Detail    string    `db:"detail" json:"detail"`
}
