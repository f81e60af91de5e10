package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// ErrSchemaValidation is returned when a reply does not match the job event schema
var ErrSchemaValidation = errors.New("schema validation failed")

// Sentiment values
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Extraction is the structured job-search event extracted from one email
type Extraction struct {
	Company    string  `json:"company"`
	Role       string  `json:"role"`
	NextAction string  `json:"next_action"`
	ActionDate string  `json:"action_date"` // YYYY-MM-DD or empty
	Sentiment  string  `json:"sentiment"`
	Summary    string  `json:"summary"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

var extractionFields = []string{
	"company", "role", "next_action", "action_date", "sentiment", "summary", "class", "confidence", "reason",
}

// schemaName is sent as response_format.json_schema.name
const schemaName = "job_event"

// Schema returns the JSON schema the endpoint is asked to follow
func Schema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	enum := func(values ...string) map[string]any {
		return map[string]any{"type": "string", "enum": values}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             extractionFields,
		"properties": map[string]any{
			"company":     str("hiring company name, empty if unknown"),
			"role":        str("job title, empty if unknown"),
			"next_action": str("what the candidate should do next, empty if nothing"),
			"action_date": str("date of the next action as YYYY-MM-DD, empty if none"),
			"sentiment":   enum(SentimentPositive, SentimentNeutral, SentimentNegative),
			"summary":     str("one or two sentence summary"),
			"class": enum(
				string(models.ClassInterview), string(models.ClassOffer), string(models.ClassRejection),
				string(models.ClassApplied), string(models.ClassOther),
			),
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"reason":     str("short justification of the class"),
		},
	}
}

// ParseExtraction decodes and validates a model reply. All failures wrap ErrSchemaValidation.
func ParseExtraction(content string) (*Extraction, error) {
	raw := []byte(stripFences(content))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrSchemaValidation, err)
	}
	for _, name := range extractionFields {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrSchemaValidation, name)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var x Extraction
	if err := dec.Decode(&x); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}

	if err := x.validate(); err != nil {
		return nil, err
	}
	return &x, nil
}

func (x *Extraction) validate() error {
	switch x.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return fmt.Errorf("%w: invalid sentiment %q", ErrSchemaValidation, x.Sentiment)
	}
	if _, ok := models.ParseClass(x.Class); !ok {
		return fmt.Errorf("%w: invalid class %q", ErrSchemaValidation, x.Class)
	}
	if x.Confidence < 0 || x.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrSchemaValidation, x.Confidence)
	}
	if strings.TrimSpace(x.Summary) == "" {
		return fmt.Errorf("%w: empty summary", ErrSchemaValidation)
	}
	if x.ActionDate != "" {
		if _, err := time.Parse(time.DateOnly, x.ActionDate); err != nil {
			return fmt.Errorf("%w: action_date %q is not YYYY-MM-DD", ErrSchemaValidation, x.ActionDate)
		}
	}
	x.Company = strings.TrimSpace(x.Company)
	x.Role = strings.TrimSpace(x.Role)
	return nil
}

// stripFences removes a markdown code block around the reply, if any
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSuffix(s, "```")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
