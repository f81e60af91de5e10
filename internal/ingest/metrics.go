package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// Metrics is the live view of a run, served by /stats
type Metrics struct {
	RunID        string         `json:"run_id"`
	Kind         models.RunKind `json:"kind"`
	Start        *time.Time     `json:"start"`
	End          *time.Time     `json:"end"`
	InProgress   bool           `json:"in_progress"`
	CurrentPhase models.Phase   `json:"current_phase"`
	DurationMs   int64          `json:"duration_ms"`
	Status       string         `json:"status,omitempty"`
	Error        string         `json:"error,omitempty"`
	Fetch        FetchMetrics   `json:"fetch"`
	Parse        ParseMetrics   `json:"parse"`
	OpenAI       OpenAIMetrics  `json:"openai"`
	Env          EnvMetrics     `json:"env"`
}

// FetchMetrics counts fetch gate outcomes
type FetchMetrics struct {
	Candidates         int `json:"candidates"`
	Stored             int `json:"stored"`
	SkippedHeader      int `json:"skipped_header"`
	SkippedNonRelevant int `json:"skipped_non_relevant"`
	Duplicates         int `json:"duplicates"`
	Errors             int `json:"errors"`
	Promoted           int `json:"promoted"` // revisited below the cursor
}

// ParseMetrics counts extraction outcomes
type ParseMetrics struct {
	Parsed       int `json:"parsed"`
	Errors       int `json:"errors"`
	Retried      int `json:"retried"`
	PendingQueue int `json:"pending_queue"`
}

// OpenAIMetrics sums usage across all calls of the run
type OpenAIMetrics struct {
	Calls   int     `json:"calls"`
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// EnvMetrics echoes the configuration the run used
type EnvMetrics struct {
	Mailbox        string `json:"mailbox"`
	BatchLimit     int    `json:"batch_limit"`
	MaxInitialSync int    `json:"max_initial_sync"`
	IncludeAlerts  bool   `json:"include_alerts"`
	LLMEnabled     bool   `json:"llm_enabled"`
}

// run is one in-flight invocation
type run struct {
	id      string
	kind    models.RunKind
	mailbox string
	stop    atomic.Bool

	mu      sync.Mutex
	metrics Metrics
}

func newRun(id string, kind models.RunKind, env EnvMetrics) *run {
	now := time.Now()
	return &run{
		id:      id,
		kind:    kind,
		mailbox: env.Mailbox,
		metrics: Metrics{
			RunID:      id,
			Kind:       kind,
			Start:      &now,
			InProgress: true,
			Env:        env,
		},
	}
}

func (r *run) update(fn func(m *Metrics)) {
	r.mu.Lock()
	fn(&r.metrics)
	r.mu.Unlock()
}

func (r *run) phase(p models.Phase) {
	r.update(func(m *Metrics) { m.CurrentPhase = p })
}

func (r *run) stopped() bool {
	return r.stop.Load()
}

// snapshot returns a copy with the duration filled in
func (r *run) snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.metrics
	if m.Start != nil {
		end := time.Now()
		if m.End != nil {
			end = *m.End
		}
		m.DurationMs = end.Sub(*m.Start).Milliseconds()
	}
	return m
}

// record converts the final metrics into the persisted run row
func (m *Metrics) record() *models.IngestRun {
	rec := &models.IngestRun{
		ID:      m.RunID,
		Mailbox: m.Env.Mailbox,
		Kind:    m.Kind,
		Status:  m.Status,
		Stored:  m.Fetch.Stored,
		Skipped: m.Fetch.SkippedHeader + m.Fetch.SkippedNonRelevant,
		Parsed:  m.Parse.Parsed,
		Errors:  m.Fetch.Errors + m.Parse.Errors,
		Tokens:  m.OpenAI.Tokens,
		CostUSD: m.OpenAI.CostUSD,
		Error:   m.Error,
	}
	if m.Start != nil {
		rec.StartedAt = *m.Start
	}
	if m.End != nil {
		rec.EndedAt = *m.End
	}
	return rec
}
