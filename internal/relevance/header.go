package relevance

import (
	"regexp"
	"strings"

	"github.com/mixelka/jobmail-ingest/internal/email"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// HeaderScorer is the cheap tier: subject, sender, size and bulk-mail headers only
type HeaderScorer struct {
	opts   Options
	ats    map[string]string
	strong *regexp.Regexp
	weak   *regexp.Regexp
}

// NewHeaderScorer creates a header scorer
func NewHeaderScorer(opts Options) *HeaderScorer {
	ats := make(map[string]string, len(atsDomains)+len(opts.ExtraATSDomains))
	for domain, vendor := range atsDomains {
		ats[domain] = vendor
	}
	for _, domain := range opts.ExtraATSDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			ats[domain] = strings.SplitN(domain, ".", 2)[0]
		}
	}

	return &HeaderScorer{
		opts:   opts,
		ats:    ats,
		strong: keywordRegex(append(append([]string{}, strongKeywords...), opts.ExtraKeywords...)),
		weak:   keywordRegex(weakKeywords),
	}
}

// ModelVersion identifies the rule set; cached verdicts from another version are rescored
func (s *HeaderScorer) ModelVersion() string {
	return s.opts.ModelVersion
}

// Classify implements RelevanceClassifier
func (s *HeaderScorer) Classify(c *Candidate) Verdict {
	w := s.opts.Weights
	h := c.Header
	if h == nil {
		h = &email.Header{}
	}

	score := w.Base
	var why reasons

	domain := h.From.Domain()
	vendor := s.vendorFor(domain)
	if vendor != "" {
		score += w.ATSDomain
		why.add("ats_domain=" + domain)
	} else if isRecruiterSender(h.From.Address) {
		score += w.RecruiterSender
		why.add("recruiter_sender")
	}

	subject := strings.ToLower(h.Subject)
	if m := s.strong.FindString(subject); m != "" {
		score += w.StrongKeyword
		why.add("subject=" + m)
	} else if m := s.weak.FindString(subject); m != "" {
		score += w.WeakKeyword
		why.add("subject_weak=" + m)
	}

	if isAlert(subject, domain) {
		if s.opts.IncludeAlerts {
			score += w.AlertIncluded
			why.add("job_alert")
		} else {
			score += w.AlertExcluded
			why.add("job_alert_excluded")
		}
	}

	// ATS mail carries List-Unsubscribe too, so bulk penalties only apply to other senders
	if vendor == "" {
		if h.ListUnsubscribe != "" || h.ListID != "" {
			score += w.ListUnsubscribe
			why.add("list_unsubscribe")
		}
		if h.Precedence == "bulk" || h.Precedence == "list" || h.Precedence == "junk" {
			score += w.BulkPrecedence
			why.add("precedence=" + h.Precedence)
		}
	}
	if h.AutoSubmitted != "" && h.AutoSubmitted != "no" {
		score += w.AutoSubmitted
		why.add("auto_submitted")
	}
	if newsletterRegex.MatchString(subject) {
		score += w.NewsletterSubject
		why.add("newsletter_subject")
	}
	if promotionalRegex.MatchString(subject) {
		score += w.Promotional
		why.add("promotional")
	}

	score = clamp(score)
	return Verdict{
		Decision: s.decide(score),
		Score:    score,
		Reason:   why.String(),
		Vendor:   vendor,
	}
}

func (s *HeaderScorer) decide(score float64) models.Decision {
	switch {
	case score >= s.opts.RelevantThreshold:
		return models.DecisionRelevant
	case score <= s.opts.SkipThreshold:
		return models.DecisionSkip
	default:
		return models.DecisionAmbiguous
	}
}

// Vendor returns the ATS vendor for a sender address, if any
func (s *HeaderScorer) Vendor(address string) string {
	return s.vendorFor(email.GetDomainFromEmail(address))
}

// vendorFor matches the domain and its parents against the ATS table
func (s *HeaderScorer) vendorFor(domain string) string {
	for domain != "" {
		if vendor, ok := s.ats[domain]; ok {
			return vendor
		}
		i := strings.IndexByte(domain, '.')
		if i < 0 {
			break
		}
		domain = domain[i+1:]
	}
	return ""
}

func isRecruiterSender(address string) bool {
	at := strings.IndexByte(address, '@')
	if at <= 0 {
		return false
	}
	local := strings.ToLower(address[:at])
	for _, p := range recruiterLocalParts {
		if local == p || strings.HasPrefix(local, p+".") || strings.HasPrefix(local, p+"-") || strings.HasSuffix(local, "-"+p) {
			return true
		}
	}
	return false
}

func isAlert(subject, domain string) bool {
	if alertRegex.MatchString(subject) {
		return true
	}
	for _, d := range alertSenders {
		if (domain == d || strings.HasSuffix(domain, "."+d)) && strings.Contains(subject, "jobs") {
			return true
		}
	}
	return false
}

func keywordRegex(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}
