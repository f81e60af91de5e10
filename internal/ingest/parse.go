package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/llm"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// parseStage drains the pending queue of the mailbox with a fixed worker pool. Each
// email is handled end to end by one worker, so its log entries stay in order.
func (s *Service) parseStage(ctx, dbctx context.Context, r *run) {
	r.phase(models.PhaseParse)

	if s.extractor == nil {
		s.logEntry(dbctx, r, models.PhaseParse, models.StatusDone, func(e *models.IngestLogEntry) {
			e.Detail = "extraction disabled, emails stay pending"
		})
		return
	}

	pending, err := s.db.ListPendingEmails(dbctx, s.opts.Mailbox, s.opts.BatchLimit)
	if err != nil {
		s.logEntry(dbctx, r, models.PhaseParse, models.StatusError, func(e *models.IngestLogEntry) {
			e.Detail = err.Error()
		})
		s.logger.Error("Failed to load pending emails", "error", err)
		return
	}

	s.logEntry(dbctx, r, models.PhaseParse, models.StatusStart, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("pending=%d workers=%d model=%s", len(pending), s.opts.ParseWorkers, s.extractor.Model())
	})

	jobs := make(chan *models.Email)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.ParseWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				s.parseGuarded(ctx, dbctx, r, e)
				s.unclaim(e.ID)
			}
		}()
	}

	for _, e := range pending {
		if ctx.Err() != nil {
			r.stop.Store(true)
		}
		if r.stopped() {
			s.logEntry(dbctx, r, models.PhaseParse, models.StatusCancelled, func(entry *models.IngestLogEntry) {
				entry.UID = e.UID
				entry.MessageID = e.MessageID
				entry.Detail = "stopped before this email"
			})
			break
		}
		// a concurrent live or backfill run may already be extracting it
		if !s.claim(e.ID) {
			continue
		}
		jobs <- e
	}
	close(jobs)
	wg.Wait()

	m := r.snapshot()
	s.logEntry(dbctx, r, models.PhaseParse, models.StatusDone, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("parsed=%d errors=%d retried=%d tokens=%d cost_usd=%.6f",
			m.Parse.Parsed, m.Parse.Errors, m.Parse.Retried, m.OpenAI.Tokens, m.OpenAI.CostUSD)
	})
}

// parseGuarded keeps a panicking extraction from taking the worker down. The email stays pending.
func (s *Service) parseGuarded(ctx, dbctx context.Context, r *run, e *models.Email) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Extraction panicked", "email_id", e.ID, "panic", p)
			s.logEntry(dbctx, r, models.PhaseParse, models.StatusError, func(le *models.IngestLogEntry) {
				le.UID = e.UID
				le.MessageID = e.MessageID
				le.Subject = e.Subject
				le.Detail = fmt.Sprintf("email_id=%d panic: %v", e.ID, p)
			})
			r.update(func(m *Metrics) { m.Parse.Errors++ })
		}
	}()
	s.parseOne(ctx, dbctx, r, e)
}

// parseOne extracts one email and moves it to parsed or error. Timeouts and other
// transient failures leave it pending for the next run.
func (s *Service) parseOne(ctx, dbctx context.Context, r *run, e *models.Email) {
	res := s.extractor.Extract(ctx, &llm.Input{
		Subject:    e.Subject,
		From:       e.FromEmail,
		Date:       e.Date,
		Body:       e.Body,
		VendorHint: e.Vendor,
	})

	for _, a := range res.Attempts {
		call := &models.OpenAICall{
			EmailID:          e.ID,
			Model:            a.Model,
			PromptTokens:     a.Usage.PromptTokens,
			CompletionTokens: a.Usage.CompletionTokens,
			TotalTokens:      a.Usage.TotalTokens,
			CostUSD:          a.CostUSD,
			RequestJSON:      a.RequestJSON,
			ResponseJSON:     a.ResponseJSON,
		}
		if err := s.db.RecordOpenAICall(dbctx, call); err != nil {
			s.logger.Error("Failed to record LLM call", "email_id", e.ID, "error", err)
		}
	}
	usage := res.Usage()
	r.update(func(m *Metrics) {
		m.OpenAI.Calls += len(res.Attempts)
		m.OpenAI.Tokens += usage.TotalTokens
		m.OpenAI.CostUSD += res.CostUSD()
	})

	entry := func(status, detail, class, vendor string) {
		s.logEntry(dbctx, r, models.PhaseParse, status, func(le *models.IngestLogEntry) {
			le.UID = e.UID
			le.MessageID = e.MessageID
			le.Subject = e.Subject
			le.Class = class
			le.Vendor = vendor
			le.Detail = detail
		})
	}

	switch {
	case res.Err == nil:
		x := res.Extraction
		class, _ := models.ParseClass(x.Class)
		err := s.db.MarkEmailParsed(dbctx, e.ID, database.ParseOutcome{
			ParsedJSON: res.ParsedJSON,
			Class:      class,
			Company:    x.Company,
			Confidence: x.Confidence,
			Reason:     x.Reason,
			Model:      res.Model,
		})
		if err != nil {
			entry(models.StatusError, fmt.Sprintf("email_id=%d store: %v", e.ID, err), "", e.Vendor)
			r.update(func(m *Metrics) { m.Parse.Errors++ })
			return
		}

		vendor := e.Vendor
		if x.Company != "" {
			vendor = x.Company
		}
		entry(models.StatusParsed, fmt.Sprintf("email_id=%d confidence=%.2f tokens=%d cost_usd=%.6f",
			e.ID, x.Confidence, usage.TotalTokens, res.CostUSD()), string(class), vendor)
		r.update(func(m *Metrics) { m.Parse.Parsed++ })

		if s.notifier != nil && (class == models.ClassInterview || class == models.ClassOffer) {
			notified := *e
			notified.Class = class
			notified.Vendor = vendor
			notified.ParseStatus = models.ParseParsed
			notified.ParsedJSON = res.ParsedJSON
			s.notifier.EmailClassified(dbctx, &notified)
		}

	case errors.Is(res.Err, llm.ErrSchemaValidation):
		if err := s.db.MarkEmailParseError(dbctx, e.ID, res.Model, res.Raw, res.Err.Error()); err != nil {
			s.logger.Error("Failed to mark parse error", "email_id", e.ID, "error", err)
		}
		entry(models.StatusError, fmt.Sprintf("email_id=%d attempts=%d: %v", e.ID, len(res.Attempts), res.Err), "", e.Vendor)
		r.update(func(m *Metrics) { m.Parse.Errors++ })

	case ctx.Err() != nil || llm.IsRetryable(res.Err):
		entry(models.StatusRetry, fmt.Sprintf("email_id=%d left pending: %v", e.ID, res.Err), "", e.Vendor)
		r.update(func(m *Metrics) { m.Parse.Retried++ })

	default:
		if err := s.db.MarkEmailParseError(dbctx, e.ID, res.Model, res.Raw, res.Err.Error()); err != nil {
			s.logger.Error("Failed to mark parse error", "email_id", e.ID, "error", err)
		}
		entry(models.StatusError, fmt.Sprintf("email_id=%d: %v", e.ID, res.Err), "", e.Vendor)
		r.update(func(m *Metrics) { m.Parse.Errors++ })
	}
}

func (s *Service) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parsing[id]; ok {
		return false
	}
	s.parsing[id] = struct{}{}
	return true
}

func (s *Service) unclaim(id int64) {
	s.mu.Lock()
	delete(s.parsing, id)
	s.mu.Unlock()
}
