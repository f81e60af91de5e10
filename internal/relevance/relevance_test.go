package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mixelka/jobmail-ingest/internal/email"
	"github.com/mixelka/jobmail-ingest/internal/parser"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

func header(from, subject string) *email.Header {
	return &email.Header{From: email.Address{Address: from}, Subject: subject}
}

func TestHeaderScorer_Classify(t *testing.T) {
	s := NewHeaderScorer(DefaultOptions())

	promo := header("deals@shop.example", "50% off everything this weekend")
	promo.ListUnsubscribe = "<mailto:unsub@shop.example>"

	bulk := header("news@blog.example", "Weekly digest")
	bulk.Precedence = "bulk"

	ats := header("no-reply@us.greenhouse-mail.io", "Interview invitation")
	ats.ListUnsubscribe = "<https://greenhouse.io/unsub>"

	tests := []struct {
		name   string
		header *email.Header
		want   models.Decision
		vendor string
	}{
		{name: "promotion with unsubscribe", header: promo, want: models.DecisionSkip},
		{name: "bulk newsletter", header: bulk, want: models.DecisionSkip},
		{name: "ats interview", header: ats, want: models.DecisionRelevant, vendor: "greenhouse"},
		{name: "recruiter with keyword", header: header("careers@acme.example", "Your application to Acme"), want: models.DecisionRelevant},
		{name: "personal weak keyword", header: header("jane@acme.example", "About the role"), want: models.DecisionAmbiguous},
		{name: "no signal", header: header("friend@mail.example", "lunch?"), want: models.DecisionAmbiguous},
		{name: "keyword inside word ignored", header: header("friend@mail.example", "roles and controls"), want: models.DecisionAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := s.Classify(&Candidate{Header: tt.header})
			assert.Equal(t, tt.want, v.Decision, "score=%.2f reason=%s", v.Score, v.Reason)
			assert.Equal(t, tt.vendor, v.Vendor)
			assert.GreaterOrEqual(t, v.Score, 0.0)
			assert.LessOrEqual(t, v.Score, 1.0)
			assert.NotEmpty(t, v.Reason)
		})
	}
}

func TestHeaderScorer_Alerts(t *testing.T) {
	alert := header("jobs-noreply@linkedin.com", "New jobs for you: Go developer")

	excluded := NewHeaderScorer(DefaultOptions()).Classify(&Candidate{Header: alert})
	assert.Equal(t, models.DecisionSkip, excluded.Decision)
	assert.Contains(t, excluded.Reason, "job_alert_excluded")

	opts := DefaultOptions()
	opts.IncludeAlerts = true
	included := NewHeaderScorer(opts).Classify(&Candidate{Header: alert})
	assert.Greater(t, included.Score, excluded.Score)
	assert.NotEqual(t, models.DecisionSkip, included.Decision)
}

func TestHeaderScorer_Extras(t *testing.T) {
	opts := DefaultOptions()
	opts.ExtraATSDomains = []string{"Hire.Example.org"}
	opts.ExtraKeywords = []string{"take-home"}
	s := NewHeaderScorer(opts)

	v := s.Classify(&Candidate{Header: header("bot@mail.hire.example.org", "hello")})
	assert.Equal(t, "hire", v.Vendor)

	v = s.Classify(&Candidate{Header: header("sam@person.example", "take-home task")})
	assert.Contains(t, v.Reason, "subject=take-home")
}

func TestHeaderScorer_NilHeader(t *testing.T) {
	v := NewHeaderScorer(DefaultOptions()).Classify(&Candidate{})
	assert.Equal(t, models.DecisionAmbiguous, v.Decision)
	assert.Equal(t, "no_signal", v.Reason)
}

func TestDefaultOptions_StoreAboveBase(t *testing.T) {
	opts := DefaultOptions()
	assert.Greater(t, opts.StoreThreshold, opts.Weights.Base)
}

func TestContentScorer_Classify(t *testing.T) {
	opts := DefaultOptions()
	hs := NewHeaderScorer(opts)
	cs := NewContentScorer(opts, hs)
	detector := parser.NewSignalDetector()

	candidate := func(h *email.Header, body string) *Candidate {
		prior := hs.Classify(&Candidate{Header: h})
		return &Candidate{Header: h, Body: body, Signals: detector.Detect(body), Prior: &prior}
	}

	t.Run("ambiguous with ats body is stored", func(t *testing.T) {
		body := "Hi Sam, thank you for applying to the Backend role. We'd like to schedule an interview next week. Powered by Greenhouse"
		v := cs.Classify(candidate(header("jane@acme.example", "Following up"), body))
		assert.Equal(t, models.DecisionRelevant, v.Decision, v.Reason)
		assert.Equal(t, "greenhouse", v.Vendor)
	})

	t.Run("ambiguous marketing body is skipped", func(t *testing.T) {
		body := "Check out our spring catalogue with hundreds of new items. Unsubscribe or manage preferences here."
		v := cs.Classify(candidate(header("hello@store.example", "New arrivals"), body))
		assert.Equal(t, models.DecisionSkip, v.Decision, v.Reason)
	})

	t.Run("short empty body is skipped", func(t *testing.T) {
		v := cs.Classify(candidate(header("friend@mail.example", "hi"), "ok"))
		assert.Equal(t, models.DecisionSkip, v.Decision, v.Reason)
		assert.Contains(t, v.Reason, "short_body")
	})

	t.Run("personal mail without signals is skipped", func(t *testing.T) {
		h := header("friend@gmail.com", "Lunch tomorrow?")
		body := "Hey! Are you free for lunch tomorrow around noon? There's a new ramen place near the park we could try."
		c := candidate(h, body)
		assert.Equal(t, models.DecisionAmbiguous, c.Prior.Decision)
		assert.InDelta(t, DefaultWeights().Base, c.Prior.Score, 1e-9)

		v := cs.Classify(c)
		assert.Equal(t, models.DecisionSkip, v.Decision, v.Reason)
		assert.InDelta(t, DefaultWeights().Base, v.Score, 1e-9)
	})

	t.Run("prior computed when missing", func(t *testing.T) {
		h := header("no-reply@greenhouse.io", "Interview invitation")
		v := cs.Classify(&Candidate{Header: h, Body: "We'd like to schedule an interview with you for the Go role at Acme."})
		assert.Equal(t, models.DecisionRelevant, v.Decision)
	})
}
