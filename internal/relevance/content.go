package relevance

import (
	"unicode/utf8"

	"github.com/mixelka/jobmail-ingest/internal/parser"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// ContentScorer is the fetch gate tier: it refines the header score with body evidence
// and answers relevant (store) or skip
type ContentScorer struct {
	opts   Options
	header *HeaderScorer
}

// NewContentScorer creates a content scorer. The header scorer is used when a candidate
// arrives without a prior verdict.
func NewContentScorer(opts Options, header *HeaderScorer) *ContentScorer {
	return &ContentScorer{opts: opts, header: header}
}

var eventSignals = []string{"interview", "offer", "rejection", "applied"}

// Classify implements RelevanceClassifier
func (s *ContentScorer) Classify(c *Candidate) Verdict {
	w := s.opts.Weights

	prior := c.Prior
	if prior == nil {
		v := s.header.Classify(c)
		prior = &v
	}

	score := prior.Score
	why := reasons{prior.Reason}
	vendor := prior.Vendor

	hasATS := parser.Has(c.Signals, "ats_boilerplate")
	if hasATS {
		score += w.ATSBoilerplate
		why.add("body_ats_boilerplate")
	}

	hasEvent := false
	for _, typ := range eventSignals {
		if parser.Has(c.Signals, typ) {
			hasEvent = true
			why.add("body_" + typ)
			break
		}
	}
	if hasEvent {
		score += w.EventSignal
	}

	if v := parser.Vendor(c.Signals); v != "" {
		score += w.VendorSignal
		why.add("body_vendor=" + v)
		if vendor == "" {
			vendor = v
		}
	}

	if utf8.RuneCountInString(c.Body) < w.ShortBodyRunes {
		score += w.ShortBody
		why.add("short_body")
	}

	if parser.Has(c.Signals, "unsubscribe") && !hasATS && !hasEvent && vendor == "" {
		score += w.UnsubscribeFooter
		why.add("unsubscribe_footer")
	}

	score = clamp(score)
	decision := models.DecisionSkip
	if score >= s.opts.StoreThreshold {
		decision = models.DecisionRelevant
	}

	return Verdict{
		Decision: decision,
		Score:    score,
		Reason:   why.String(),
		Vendor:   vendor,
	}
}
