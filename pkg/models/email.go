package models

import "time"

// ParseStatus of an email's LLM extraction
type ParseStatus string

const (
	ParsePending ParseStatus = "pending"
	ParseParsed  ParseStatus = "parsed"
	ParseError   ParseStatus = "error"
)

// ParseParseStatus validates a status string
func ParseParseStatus(s string) (ParseStatus, bool) {
	switch st := ParseStatus(s); st {
	case ParsePending, ParseParsed, ParseError:
		return st, true
	}
	return "", false
}

// Class is the job-search event type of an email
type Class string

const (
	ClassInterview Class = "interview"
	ClassOffer     Class = "offer"
	ClassRejection Class = "rejection"
	ClassApplied   Class = "applied"
	ClassOther     Class = "other"
)

// ParseClass validates a class string
func ParseClass(s string) (Class, bool) {
	switch c := Class(s); c {
	case ClassInterview, ClassOffer, ClassRejection, ClassApplied, ClassOther:
		return c, true
	}
	return "", false
}

// Email is a stored relevant message
type Email struct {
	ID                       int64       `db:"id" json:"id"`
	MessageID                string      `db:"message_id" json:"message_id"`
	UID                      uint32      `db:"uid" json:"uid"`
	Mailbox                  string      `db:"mailbox" json:"mailbox"`
	Date                     time.Time   `db:"date" json:"date"`
	Subject                  string      `db:"subject" json:"subject"`
	FromEmail                string      `db:"from_email" json:"from_email"`
	ToEmail                  string      `db:"to_email" json:"to_email"`
	Vendor                   string      `db:"vendor" json:"vendor"` // Hiring company, falls back to detected ATS
	Class                    Class       `db:"class" json:"class"`
	Body                     string      `db:"body" json:"body"`
	RawHeaders               string      `db:"raw_headers" json:"raw_headers"`
	RawHTML                  string      `db:"raw_html" json:"raw_html"`
	ParsedJSON               string      `db:"parsed_json" json:"parsed_json"`
	ParseStatus              ParseStatus `db:"parse_status" json:"parse_status"`
	ParseRaw                 string      `db:"parse_raw" json:"parse_raw"` // Last unparseable LLM reply
	ParseError               string      `db:"parse_error" json:"parse_error"`
	ParseAttempts            int         `db:"parse_attempts" json:"parse_attempts"`
	ParsedAt                 *time.Time  `db:"parsed_at" json:"parsed_at,omitempty"`
	OpenAIModel              string      `db:"openai_model" json:"openai_model"`
	PromptTokens             int         `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens         int         `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens              int         `db:"total_tokens" json:"total_tokens"`
	CostUSD                  float64     `db:"cost_usd" json:"cost_usd"`
	ClassificationConfidence float64     `db:"classification_confidence" json:"classification_confidence"`
	ClassificationReason     string      `db:"classification_reason" json:"classification_reason"`
	CreatedAt                time.Time   `db:"created_at" json:"created_at"`
}
