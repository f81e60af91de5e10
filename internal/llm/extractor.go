package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mixelka/jobmail-ingest/internal/parser"
)

const maxAttempts = 2

const systemPrompt = `You read emails from a job seeker's inbox and extract the hiring event they describe.
Reply with a single JSON object and nothing else. Fields:
- company: the hiring company (not the ATS vendor), empty if unknown
- role: the job title, empty if unknown
- next_action: what the candidate should do next, empty if nothing
- action_date: date of that action as YYYY-MM-DD, empty if none
- sentiment: positive, neutral or negative for the candidate
- summary: one or two sentences
- class: interview (scheduling or invitation), offer, rejection, applied (confirmation of an application) or other
- confidence: 0..1 confidence in class
- reason: a few words justifying class`

// Input is the email content sent for extraction
type Input struct {
	Subject    string
	From       string
	Date       time.Time
	Body       string
	VendorHint string // ATS platform detected by the heuristics
}

// Attempt is one completion call with its accounting
type Attempt struct {
	Model        string
	Usage        Usage
	CostUSD      float64
	RequestJSON  string
	ResponseJSON string
	Err          error
}

// Result of an extraction. Err is nil on success, wraps ErrSchemaValidation when the
// model failed the schema twice, and is the transport error otherwise.
type Result struct {
	Extraction *Extraction
	ParsedJSON string
	Raw        string // last reply that failed validation
	Model      string
	Attempts   []Attempt
	Err        error
}

// Usage sums token usage across attempts
func (r *Result) Usage() Usage {
	var u Usage
	for _, a := range r.Attempts {
		u.PromptTokens += a.Usage.PromptTokens
		u.CompletionTokens += a.Usage.CompletionTokens
		u.TotalTokens += a.Usage.TotalTokens
	}
	return u
}

// CostUSD sums cost across attempts
func (r *Result) CostUSD() float64 {
	var c float64
	for _, a := range r.Attempts {
		c += a.CostUSD
	}
	return c
}

// Extractor runs schema-constrained extraction with one corrective retry
type Extractor struct {
	completer    ChatCompleter
	pricing      *Pricing
	model        string
	maxBodyChars int
	logger       *slog.Logger
}

// NewExtractor creates an extractor
func NewExtractor(completer ChatCompleter, pricing *Pricing, model string, maxBodyChars int, logger *slog.Logger) *Extractor {
	if pricing == nil {
		pricing = NewPricing(Rate{})
	}
	return &Extractor{
		completer:    completer,
		pricing:      pricing,
		model:        model,
		maxBodyChars: maxBodyChars,
		logger:       logger.With("component", "llm"),
	}
}

// Model returns the configured model name
func (e *Extractor) Model() string {
	return e.model
}

// Extract asks the model for a job event. Every call made is reported in Result.Attempts.
func (e *Extractor) Extract(ctx context.Context, in *Input) *Result {
	res := &Result{Model: e.model}
	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: e.userPrompt(in)},
	}

	for i := 0; i < maxAttempts; i++ {
		req := &ChatRequest{
			Model:       e.model,
			Messages:    messages,
			Temperature: 0,
			MaxTokens:   600,
			ResponseFormat: &ResponseFormat{
				Type:       "json_schema",
				JSONSchema: &JSONSchema{Name: schemaName, Strict: true, Schema: Schema()},
			},
		}
		reqJSON, _ := json.Marshal(req)

		resp, err := e.completer.Complete(ctx, req)
		if err != nil {
			res.Attempts = append(res.Attempts, Attempt{
				Model:        e.model,
				RequestJSON:  string(reqJSON),
				ResponseJSON: err.Error(),
				Err:          err,
			})
			res.Err = err
			return res
		}

		res.Model = resp.Model
		res.Attempts = append(res.Attempts, Attempt{
			Model:        resp.Model,
			Usage:        resp.Usage,
			CostUSD:      e.pricing.Cost(resp.Model, resp.Usage),
			RequestJSON:  string(reqJSON),
			ResponseJSON: string(resp.Raw),
		})

		x, verr := ParseExtraction(resp.Content)
		if verr == nil {
			parsed, _ := json.Marshal(x)
			res.Extraction = x
			res.ParsedJSON = string(parsed)
			res.Raw = ""
			res.Err = nil
			return res
		}

		e.logger.Debug("Reply failed validation", "attempt", i+1, "error", verr)
		res.Attempts[len(res.Attempts)-1].Err = verr
		res.Raw = resp.Content
		res.Err = verr
		messages = append(messages,
			Message{Role: "assistant", Content: resp.Content},
			Message{Role: "user", Content: correction(verr)},
		)
	}

	return res
}

func (e *Extractor) userPrompt(in *Input) string {
	body := parser.Truncate(in.Body, e.maxBodyChars)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", in.From)
	fmt.Fprintf(&b, "Subject: %s\n", in.Subject)
	if !in.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", in.Date.Format(time.DateOnly))
	}
	if in.VendorHint != "" {
		fmt.Fprintf(&b, "Sent via ATS: %s\n", in.VendorHint)
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}

func correction(err error) string {
	return fmt.Sprintf("Your previous reply was rejected: %v. Reply again with only a JSON object containing exactly the fields %s, using the allowed values.",
		err, strings.Join(extractionFields, ", "))
}
