// Package relevance decides whether a message is part of a job search. Two strategies
// share one interface: HeaderScorer runs before any body is fetched, ContentScorer
// re-evaluates with the full text. Their thresholds and weights are configuration.
package relevance

import (
	"strings"

	"github.com/mixelka/jobmail-ingest/internal/email"
	"github.com/mixelka/jobmail-ingest/internal/parser"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// Candidate is the evidence available about one message
type Candidate struct {
	Header  *email.Header
	Body    string          // plain text, empty before fetch
	Signals []parser.Signal // body signals, empty before fetch
	Prior   *Verdict        // verdict of the previous tier, if any
}

// Verdict is a classifier decision
type Verdict struct {
	Decision models.Decision
	Score    float64
	Reason   string
	Vendor   string // ATS platform recognised from the sender or body
}

// RelevanceClassifier scores a candidate
type RelevanceClassifier interface {
	Classify(c *Candidate) Verdict
}

// Options tunes both tiers
type Options struct {
	ModelVersion      string
	RelevantThreshold float64
	SkipThreshold     float64
	StoreThreshold    float64
	IncludeAlerts     bool
	ExtraATSDomains   []string
	ExtraKeywords     []string
	Weights           Weights
}

// DefaultOptions returns the starting thresholds
func DefaultOptions() Options {
	return Options{
		ModelVersion:      "h1",
		RelevantThreshold: 0.66,
		SkipThreshold:     0.33,
		StoreThreshold:    0.6,
		Weights:           DefaultWeights(),
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// reasons accumulates matched rule tags
type reasons []string

func (r *reasons) add(tag string) {
	*r = append(*r, tag)
}

func (r reasons) String() string {
	if len(r) == 0 {
		return "no_signal"
	}
	return strings.Join(r, "; ")
}
