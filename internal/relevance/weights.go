package relevance

import "regexp"

// Weights are the additive rule weights applied on top of Base. The env tags let each
// weight be overridden from the environment under a prefix.
type Weights struct {
	Base float64 `env:"BASE"`

	// header tier
	ATSDomain         float64 `env:"ATS_DOMAIN"`
	RecruiterSender   float64 `env:"RECRUITER_SENDER"`
	StrongKeyword     float64 `env:"STRONG_KEYWORD"`
	WeakKeyword       float64 `env:"WEAK_KEYWORD"`
	ListUnsubscribe   float64 `env:"LIST_UNSUBSCRIBE"`
	BulkPrecedence    float64 `env:"BULK_PRECEDENCE"`
	AutoSubmitted     float64 `env:"AUTO_SUBMITTED"`
	NewsletterSubject float64 `env:"NEWSLETTER_SUBJECT"`
	Promotional       float64 `env:"PROMOTIONAL"`
	AlertIncluded     float64 `env:"ALERT_INCLUDED"`
	AlertExcluded     float64 `env:"ALERT_EXCLUDED"`

	// content tier
	ATSBoilerplate    float64 `env:"ATS_BOILERPLATE"`
	EventSignal       float64 `env:"EVENT_SIGNAL"`
	VendorSignal      float64 `env:"VENDOR_SIGNAL"`
	ShortBody         float64 `env:"SHORT_BODY"`
	UnsubscribeFooter float64 `env:"UNSUBSCRIBE_FOOTER"`
	ShortBodyRunes    int     `env:"SHORT_BODY_RUNES"`
}

// DefaultWeights returns the starting weight set
func DefaultWeights() Weights {
	return Weights{
		Base: 0.5,

		ATSDomain:         0.35,
		RecruiterSender:   0.1,
		StrongKeyword:     0.25,
		WeakKeyword:       0.1,
		ListUnsubscribe:   -0.3,
		BulkPrecedence:    -0.15,
		AutoSubmitted:     -0.05,
		NewsletterSubject: -0.25,
		Promotional:       -0.2,
		AlertIncluded:     0.1,
		AlertExcluded:     -0.4,

		ATSBoilerplate:    0.2,
		EventSignal:       0.15,
		VendorSignal:      0.1,
		ShortBody:         -0.2,
		UnsubscribeFooter: -0.15,
		ShortBodyRunes:    40,
	}
}

// atsDomains maps applicant-tracking sender domains to their vendor name
var atsDomains = map[string]string{
	"greenhouse.io":       "greenhouse",
	"greenhouse-mail.io":  "greenhouse",
	"lever.co":            "lever",
	"hire.lever.co":       "lever",
	"myworkday.com":       "workday",
	"myworkdayjobs.com":   "workday",
	"workday.com":         "workday",
	"smartrecruiters.com": "smartrecruiters",
	"icims.com":           "icims",
	"ashbyhq.com":         "ashby",
	"jobvite.com":         "jobvite",
	"taleo.net":           "taleo",
	"bamboohr.com":        "bamboohr",
	"recruitee.com":       "recruitee",
	"workablemail.com":    "workable",
	"workable.com":        "workable",
	"breezy.hr":           "breezy",
	"jazzhr.com":          "jazzhr",
	"successfactors.com":  "successfactors",
	"teamtailor.com":      "teamtailor",
	"personio.com":        "personio",
	"rippling.com":        "rippling",
}

var strongKeywords = []string{
	"interview",
	"application received",
	"next steps",
	"thank you for applying",
	"thanks for applying",
	"your application",
	"offer",
	"assessment",
	"coding challenge",
	"phone screen",
	"application status",
	"candidate",
}

var weakKeywords = []string{
	"application",
	"position",
	"role",
	"opportunity",
	"recruiter",
	"hiring",
	"career",
}

var recruiterLocalParts = []string{"careers", "recruiting", "recruitment", "talent", "hiring", "jobs", "hr", "people"}

var (
	newsletterRegex  = regexp.MustCompile(`(?i)\b(newsletter|digest|weekly|webinar|roundup|edition)\b`)
	promotionalRegex = regexp.MustCompile(`(?i)(\d+% off|\bsale\b|\bdeals?\b|discount|coupon|free shipping|limited time|black friday)`)
	alertRegex       = regexp.MustCompile(`(?i)(job alert|jobs for you|new jobs|recommended jobs|jobs you may be interested in|is hiring|new job matches)`)
	alertSenders     = []string{"linkedin.com", "indeed.com", "glassdoor.com", "ziprecruiter.com", "monster.com", "stepstone.de"}
)
