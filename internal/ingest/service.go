// Package ingest runs the mailbox ingestion pipeline: header pre-filter, fetch gate,
// LLM extraction and the resumable cursors behind them.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/eventlog"
	"github.com/mixelka/jobmail-ingest/internal/parser"
	"github.com/mixelka/jobmail-ingest/internal/relevance"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// Options configure the pipeline
type Options struct {
	Mailbox        string
	BatchLimit     int
	MaxInitialSync int
	IncludeAlerts  bool
	FetchRetries   int
	FetchBackoff   time.Duration
	ParseWorkers   int
	Relevance      relevance.Options
}

// Service owns the run lock and starts live and backfill runs
type Service struct {
	db        *database.DB
	events    *eventlog.Log
	dial      Dialer
	extractor Extractor
	notifier  Notifier
	opts      Options
	logger    *slog.Logger

	header  *relevance.HeaderScorer
	content *relevance.ContentScorer
	html    *parser.HTMLParser
	signals *parser.SignalDetector

	locks *RunLock

	mu      sync.Mutex
	runs    map[models.RunKind]*run
	last    map[models.RunKind]Metrics
	parsing map[int64]struct{} // email ids claimed by a parse worker

	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates the ingestion service. extractor and notifier may be nil: without an
// extractor stored emails stay pending.
func NewService(db *database.DB, events *eventlog.Log, dial Dialer, extractor Extractor, notifier Notifier, opts Options, logger *slog.Logger) *Service {
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 200
	}
	if opts.FetchRetries <= 0 {
		opts.FetchRetries = 1
	}
	if opts.ParseWorkers <= 0 {
		opts.ParseWorkers = 1
	}
	opts.Relevance.IncludeAlerts = opts.IncludeAlerts

	header := relevance.NewHeaderScorer(opts.Relevance)
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		db:        db,
		events:    events,
		dial:      dial,
		extractor: extractor,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With("component", "ingest", "mailbox", opts.Mailbox),
		header:    header,
		content:   relevance.NewContentScorer(opts.Relevance, header),
		html:      parser.NewHTMLParser(),
		signals:   parser.NewSignalDetector(),
		locks:     NewRunLock(),
		runs:      make(map[models.RunKind]*run),
		last:      make(map[models.RunKind]Metrics),
		parsing:   make(map[int64]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
	}
}

// SetNotifier attaches a notifier. It must be called before the first run starts.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Mailbox returns the mailbox this service ingests
func (s *Service) Mailbox() string {
	return s.opts.Mailbox
}

func (s *Service) liveKey() string {
	return s.opts.Mailbox
}

func (s *Service) backfillKey() string {
	return "backfill:" + s.opts.Mailbox
}

// Trigger starts a live run in the background and returns its id. A run already
// holding the mailbox yields ErrRunInProgress.
func (s *Service) Trigger() (string, error) {
	if !s.enter() {
		return "", ErrShuttingDown
	}
	release, ok := s.locks.TryAcquire(s.liveKey())
	if !ok {
		s.wg.Done()
		return "", ErrRunInProgress
	}

	r := s.startRun(models.RunLive)
	go func() {
		defer s.wg.Done()
		defer release()
		s.execute(s.ctx, r)
	}()
	return r.id, nil
}

// Run executes a live run synchronously. Shutdown waits for it like for background runs.
func (s *Service) Run(ctx context.Context) (*models.IngestRun, error) {
	if !s.enter() {
		return nil, ErrShuttingDown
	}
	defer s.wg.Done()

	release, ok := s.locks.TryAcquire(s.liveKey())
	if !ok {
		return nil, ErrRunInProgress
	}
	defer release()

	r := s.startRun(models.RunLive)
	return s.execute(ctx, r), nil
}

// Cancel asks the live run to stop after the UID it is working on
func (s *Service) Cancel() error {
	s.mu.Lock()
	r := s.runs[models.RunLive]
	s.mu.Unlock()

	if r == nil {
		return ErrNoActiveRun
	}
	r.stop.Store(true)
	s.logger.Info("Cancellation requested", "run_id", r.id)
	return nil
}

// InProgress reports whether a live run holds the mailbox
func (s *Service) InProgress() bool {
	return s.locks.Held(s.liveKey())
}

// Status returns the metrics of the active live run, or of the last finished one
func (s *Service) Status() Metrics {
	return s.status(models.RunLive)
}

func (s *Service) status(kind models.RunKind) Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.runs[kind]; r != nil {
		return r.snapshot()
	}
	if m, ok := s.last[kind]; ok {
		return m
	}
	return Metrics{Kind: kind, Env: s.env()}
}

// Shutdown stops the scheduler and background runs and waits for them to reach run_end.
// In-flight IMAP and LLM calls are aborted if ctx expires first.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.quitOnce.Do(func() { close(s.quit) })
	for _, r := range s.runs {
		r.stop.Store(true)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Retry puts an email in error state back into the extraction queue
func (s *Service) Retry(ctx context.Context, id int64) error {
	if err := s.db.ResetEmailForRetry(ctx, id); err != nil {
		return err
	}
	e, err := s.db.GetEmailByID(ctx, id)
	if err != nil {
		return err
	}
	s.events.Record(ctx, models.PhaseParse, models.StatusRetry, func(entry *models.IngestLogEntry) {
		entry.UID = e.UID
		entry.MessageID = e.MessageID
		entry.Subject = e.Subject
		entry.Detail = "manual retry requested"
	})
	return nil
}

// Promote overrides the cached header decision for a UID. Promoted entries are never rescored.
func (s *Service) Promote(ctx context.Context, uid uint32, decision models.Decision) error {
	if err := s.db.PromoteHeaderCache(ctx, s.opts.Mailbox, uid, decision); err != nil {
		return err
	}
	s.events.Record(ctx, models.PhaseFetch, "promoted", func(entry *models.IngestLogEntry) {
		entry.UID = uid
		entry.Detail = "decision=" + string(decision)
	})
	return nil
}

// enter registers work with the shutdown wait group. It fails once Shutdown has begun,
// so no Add can race with Shutdown's Wait.
func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) closing() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Service) env() EnvMetrics {
	return EnvMetrics{
		Mailbox:        s.opts.Mailbox,
		BatchLimit:     s.opts.BatchLimit,
		MaxInitialSync: s.opts.MaxInitialSync,
		IncludeAlerts:  s.opts.IncludeAlerts,
		LLMEnabled:     s.extractor != nil,
	}
}

func (s *Service) startRun(kind models.RunKind) *run {
	r := newRun(uuid.NewString(), kind, s.env())

	s.mu.Lock()
	s.runs[kind] = r
	s.mu.Unlock()
	return r
}

func (s *Service) endRun(r *run) Metrics {
	m := r.snapshot()

	s.mu.Lock()
	if s.runs[r.kind] == r {
		delete(s.runs, r.kind)
	}
	s.last[r.kind] = m
	s.mu.Unlock()
	return m
}

// logEntry appends a pipeline event, tagging it with the run id
func (s *Service) logEntry(ctx context.Context, r *run, phase models.Phase, status string, fill func(e *models.IngestLogEntry)) {
	s.events.Record(ctx, phase, status, func(e *models.IngestLogEntry) {
		if fill != nil {
			fill(e)
		}
		if e.Detail == "" {
			e.Detail = fmt.Sprintf("run=%s", r.id)
		}
	})
}
