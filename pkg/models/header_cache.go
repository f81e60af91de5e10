package models

import "time"

// Decision is the outcome of the header heuristic
type Decision string

const (
	DecisionRelevant  Decision = "relevant"
	DecisionAmbiguous Decision = "ambiguous"
	DecisionSkip      Decision = "skip"
)

// ParseDecision validates a decision string
func ParseDecision(s string) (Decision, bool) {
	switch d := Decision(s); d {
	case DecisionRelevant, DecisionAmbiguous, DecisionSkip:
		return d, true
	}
	return "", false
}

// HeaderCacheEntry caches the heuristic verdict for one UID
type HeaderCacheEntry struct {
	Mailbox         string    `db:"mailbox" json:"mailbox"`
	UID             uint32    `db:"uid" json:"uid"`
	Subject         string    `db:"subject" json:"subject"`
	FromEmail       string    `db:"from_email" json:"from_email"`
	Date            time.Time `db:"date" json:"date"`
	Size            uint32    `db:"size" json:"size"`
	Decision        Decision  `db:"decision" json:"decision"`
	Score           float64   `db:"score" json:"score"`
	Reason          string    `db:"reason" json:"reason"`
	ModelVersion    string    `db:"model_version" json:"model_version"`
	Promoted        bool      `db:"promoted" json:"promoted"`                 // Manual or downstream override
	PromotedPending bool      `db:"promoted_pending" json:"promoted_pending"` // Fetchable promotion not yet fetched
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
