package models

import "time"

// MailboxSyncState is the live tail-sync cursor of a mailbox
type MailboxSyncState struct {
	Mailbox   string    `db:"mailbox" json:"mailbox"`
	LastUID   uint32    `db:"last_uid" json:"last_uid"` // Highest UID fully processed by live sync
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BackfillState is the historical reprocessing window of a mailbox
type BackfillState struct {
	Mailbox            string     `db:"mailbox" json:"mailbox"`
	HighestUIDSeen     uint32     `db:"highest_uid_seen" json:"highest_uid_seen"`
	LowestUIDProcessed uint32     `db:"lowest_uid_processed" json:"lowest_uid_processed"`
	Active             bool       `db:"active" json:"active"`
	StartedAt          *time.Time `db:"started_at" json:"started_at,omitempty"`
	ModelVersion       string     `db:"model_version" json:"model_version"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Exhausted reports whether there is nothing older left to walk
func (b *BackfillState) Exhausted() bool {
	return b.LowestUIDProcessed <= 1
}
