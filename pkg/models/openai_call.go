package models

import "time"

// OpenAICall is one LLM invocation made for an email
type OpenAICall struct {
	ID               int64     `db:"id" json:"id"`
	EmailID          int64     `db:"email_id" json:"email_id"`
	Model            string    `db:"model" json:"model"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int       `db:"total_tokens" json:"total_tokens"`
	CostUSD          float64   `db:"cost_usd" json:"cost_usd"`
	RequestJSON      string    `db:"request_json" json:"request_json"`
	ResponseJSON     string    `db:"response_json" json:"response_json"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
