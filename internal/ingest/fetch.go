package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/email"
	"github.com/mixelka/jobmail-ingest/internal/relevance"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// headerChunk is how many UIDs go into one header FETCH
const headerChunk = 50

// screened is the header-tier knowledge about one UID
type screened struct {
	entry  *models.HeaderCacheEntry
	header *email.Header // nil when the verdict came from the cache
}

// fetchStage runs every candidate through the header cache and the fetch gate, in
// order. The cursor is committed UID by UID until the first fetch error.
func (s *Service) fetchStage(ctx, dbctx context.Context, r *run, mb Mailbox, uids []uint32, commit func(uint32) error) {
	r.phase(models.PhaseFetch)
	r.update(func(m *Metrics) { m.Fetch.Candidates = len(uids) })
	s.logEntry(dbctx, r, models.PhaseFetch, models.StatusStart, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("candidates=%d", len(uids))
	})

	if r.kind == models.RunLive {
		s.revisitPromoted(ctx, dbctx, r, mb)
	}

	known := s.screen(ctx, dbctx, r, mb, uids)

	pinned := false
	for _, uid := range uids {
		if ctx.Err() != nil {
			r.stop.Store(true)
		}
		if r.stopped() {
			s.logEntry(dbctx, r, models.PhaseFetch, models.StatusCancelled, func(e *models.IngestLogEntry) {
				e.UID = uid
				e.Detail = "stopped before this uid"
			})
			break
		}

		if !s.admit(ctx, dbctx, r, mb, uid, known[uid]) {
			pinned = true
			continue
		}
		if pinned {
			continue
		}
		if err := commit(uid); err != nil {
			s.logger.Error("Failed to commit cursor", "uid", uid, "error", err)
			pinned = true
		}
	}

	m := r.snapshot()
	s.logEntry(dbctx, r, models.PhaseFetch, models.StatusDone, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("stored=%d skipped_header=%d skipped_non_relevant=%d duplicates=%d errors=%d promoted=%d",
			m.Fetch.Stored, m.Fetch.SkippedHeader, m.Fetch.SkippedNonRelevant, m.Fetch.Duplicates, m.Fetch.Errors, m.Fetch.Promoted)
	})
}

// revisitPromoted fetches UIDs that were promoted after the live cursor had passed them.
// The cursor is left alone; a UID whose fetch fails stays marked for the next run.
func (s *Service) revisitPromoted(ctx, dbctx context.Context, r *run, mb Mailbox) {
	state, err := s.db.GetSyncState(dbctx, s.opts.Mailbox)
	if errors.Is(err, database.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("Failed to read sync state for promoted UIDs", "error", err)
		return
	}

	entries, err := s.db.ListPromotedPending(dbctx, s.opts.Mailbox, state.LastUID, s.opts.BatchLimit)
	if err != nil {
		s.logger.Warn("Failed to list promoted UIDs", "error", err)
		return
	}

	for _, e := range entries {
		if ctx.Err() != nil || r.stopped() {
			return
		}
		r.update(func(m *Metrics) { m.Fetch.Promoted++ })
		s.admit(ctx, dbctx, r, mb, e.UID, &screened{entry: e})
	}
}

// admit runs the gate and clears a pending promotion once the UID is decided
func (s *Service) admit(ctx, dbctx context.Context, r *run, mb Mailbox, uid uint32, sc *screened) bool {
	done := s.gate(ctx, dbctx, r, mb, uid, sc)
	if done && sc != nil && sc.entry.PromotedPending {
		if err := s.db.ClearPromotedPending(dbctx, s.opts.Mailbox, uid); err != nil {
			s.logger.Warn("Failed to clear promoted flag", "uid", uid, "error", err)
		}
	}
	return done
}

// screen returns the header verdict of each UID, scoring only those without a usable
// cache entry. A UID missing from the result could not have its header fetched.
func (s *Service) screen(ctx, dbctx context.Context, r *run, mb Mailbox, uids []uint32) map[uint32]*screened {
	known := make(map[uint32]*screened, len(uids))
	if len(uids) == 0 {
		return known
	}

	cached, err := s.db.GetHeaderCacheMany(dbctx, s.opts.Mailbox, uids)
	if err != nil {
		s.logger.Warn("Failed to read header cache, rescoring", "error", err)
		cached = map[uint32]*models.HeaderCacheEntry{}
	}

	version := s.header.ModelVersion()
	var stale []uint32
	for _, uid := range uids {
		e := cached[uid]
		if e != nil && (e.Promoted || e.ModelVersion == version) {
			known[uid] = &screened{entry: e}
			continue
		}
		stale = append(stale, uid)
	}

	for start := 0; start < len(stale); start += headerChunk {
		end := min(start+headerChunk, len(stale))
		chunk := stale[start:end]

		var headers []*email.Header
		err := s.retry(ctx, mb, func() error {
			var err error
			headers, err = mb.FetchHeaders(ctx, chunk)
			return err
		}, func(attempt int, err error) {
			s.logEntry(dbctx, r, models.PhaseFetch, models.StatusRetry, func(e *models.IngestLogEntry) {
				e.UID = chunk[0]
				e.Detail = fmt.Sprintf("headers %d-%d attempt=%d: %v", chunk[0], chunk[len(chunk)-1], attempt, err)
			})
		})
		if err != nil {
			s.logger.Warn("Failed to fetch headers", "first_uid", chunk[0], "count", len(chunk), "error", err)
			continue
		}

		for _, h := range headers {
			v := s.header.Classify(&relevance.Candidate{Header: h})
			entry := &models.HeaderCacheEntry{
				Mailbox:      s.opts.Mailbox,
				UID:          h.UID,
				Subject:      h.Subject,
				FromEmail:    h.From.Address,
				Date:         h.Date,
				Size:         h.Size,
				Decision:     v.Decision,
				Score:        v.Score,
				Reason:       v.Reason,
				ModelVersion: version,
			}
			if err := s.db.SaveHeaderCache(dbctx, entry); err != nil {
				s.logger.Warn("Failed to cache header verdict", "uid", h.UID, "error", err)
			}
			known[h.UID] = &screened{entry: entry, header: h}
		}
	}

	return known
}

// gate decides one UID and reports whether it reached a terminal state
func (s *Service) gate(ctx, dbctx context.Context, r *run, mb Mailbox, uid uint32, sc *screened) bool {
	if sc == nil {
		s.fetchFailed(dbctx, r, uid, "", errors.New("header not available"))
		return false
	}
	entry := sc.entry

	if entry.Decision == models.DecisionSkip {
		s.logEntry(dbctx, r, models.PhaseFetch, models.StatusSkipHeader, func(e *models.IngestLogEntry) {
			e.UID = uid
			e.Subject = entry.Subject
			e.Detail = fmt.Sprintf("score=%.2f %s", entry.Score, entry.Reason)
		})
		r.update(func(m *Metrics) { m.Fetch.SkippedHeader++ })
		return true
	}

	if sc.header != nil && sc.header.MessageID != "" {
		if exists, err := s.db.EmailExists(dbctx, sc.header.MessageID); err == nil && exists {
			s.duplicate(dbctx, r, uid, sc.header.MessageID, entry.Subject)
			return true
		}
	}

	var msg *email.Message
	err := s.retry(ctx, mb, func() error {
		var err error
		msg, err = mb.FetchMessage(ctx, uid)
		return err
	}, func(attempt int, err error) {
		s.logEntry(dbctx, r, models.PhaseFetch, models.StatusRetry, func(e *models.IngestLogEntry) {
			e.UID = uid
			e.Subject = entry.Subject
			e.Detail = fmt.Sprintf("attempt=%d: %v", attempt, err)
		})
	})
	if err != nil {
		s.fetchFailed(dbctx, r, uid, entry.Subject, &FetchError{UID: uid, Attempts: s.opts.FetchRetries, Err: err})
		return false
	}

	body := s.html.BodyText(msg.BodyText, msg.BodyHTML)
	vendor := s.header.Vendor(msg.From.Address)

	var verdict relevance.Verdict
	if entry.Promoted && entry.Decision == models.DecisionRelevant {
		verdict = relevance.Verdict{Decision: models.DecisionRelevant, Score: entry.Score, Reason: "promoted", Vendor: vendor}
	} else {
		verdict = s.content.Classify(&relevance.Candidate{
			Header:  &msg.Header,
			Body:    body,
			Signals: s.signals.Detect(body),
			Prior:   &relevance.Verdict{Decision: entry.Decision, Score: entry.Score, Reason: entry.Reason, Vendor: vendor},
		})
	}

	if verdict.Decision != models.DecisionRelevant {
		s.logEntry(dbctx, r, models.PhaseFetch, models.StatusSkipNonRelevant, func(e *models.IngestLogEntry) {
			e.UID = uid
			e.MessageID = msg.MessageID
			e.Subject = msg.Subject
			e.Vendor = verdict.Vendor
			e.Detail = fmt.Sprintf("score=%.2f %s", verdict.Score, verdict.Reason)
		})
		r.update(func(m *Metrics) { m.Fetch.SkippedNonRelevant++ })
		return true
	}

	stored := &models.Email{
		MessageID:  messageID(msg, s.opts.Mailbox),
		UID:        uid,
		Mailbox:    s.opts.Mailbox,
		Date:       msg.Date,
		Subject:    msg.Subject,
		FromEmail:  msg.From.Address,
		ToEmail:    joinAddresses(msg.To),
		Vendor:     verdict.Vendor,
		Body:       body,
		RawHeaders: msg.RawHeaders,
		RawHTML:    msg.BodyHTML,
	}
	if stored.Date.IsZero() {
		stored.Date = time.Now().UTC()
	}

	err = s.db.CreateEmail(dbctx, stored)
	if errors.Is(err, database.ErrAlreadyExists) {
		s.duplicate(dbctx, r, uid, stored.MessageID, stored.Subject)
		return true
	}
	if err != nil {
		s.fetchFailed(dbctx, r, uid, stored.Subject, err)
		return false
	}

	s.logEntry(dbctx, r, models.PhaseFetch, models.StatusStored, func(e *models.IngestLogEntry) {
		e.UID = uid
		e.MessageID = stored.MessageID
		e.Subject = stored.Subject
		e.Vendor = stored.Vendor
		e.Detail = fmt.Sprintf("email_id=%d score=%.2f %s", stored.ID, verdict.Score, verdict.Reason)
	})
	r.update(func(m *Metrics) { m.Fetch.Stored++ })
	return true
}

func (s *Service) duplicate(dbctx context.Context, r *run, uid uint32, messageID, subject string) {
	s.logEntry(dbctx, r, models.PhaseFetch, models.StatusDuplicate, func(e *models.IngestLogEntry) {
		e.UID = uid
		e.MessageID = messageID
		e.Subject = subject
		e.Detail = "message id already stored"
	})
	r.update(func(m *Metrics) { m.Fetch.Duplicates++ })
}

func (s *Service) fetchFailed(dbctx context.Context, r *run, uid uint32, subject string, err error) {
	s.logEntry(dbctx, r, models.PhaseFetch, models.StatusError, func(e *models.IngestLogEntry) {
		e.UID = uid
		e.Subject = subject
		e.Detail = err.Error()
	})
	r.update(func(m *Metrics) { m.Fetch.Errors++ })
	s.logger.Warn("Fetch failed", "run_id", r.id, "uid", uid, "error", err)
}

// retry runs fn up to FetchRetries times with exponential backoff. Between attempts the
// session is re-established since a failed IMAP command usually means a dead connection.
func (s *Service) retry(ctx context.Context, mb Mailbox, fn func() error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := 1; attempt <= s.opts.FetchRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == s.opts.FetchRetries || ctx.Err() != nil {
			break
		}
		onRetry(attempt, err)

		delay := s.opts.FetchBackoff << (attempt - 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		s.reconnect(ctx, mb)
	}
	return err
}

func (s *Service) reconnect(ctx context.Context, mb Mailbox) {
	_ = mb.Close()
	if err := mb.Connect(ctx); err != nil {
		s.logger.Warn("Reconnect failed", "error", err)
		return
	}
	if _, err := mb.Select(ctx, s.opts.Mailbox); err != nil {
		s.logger.Warn("Reselect failed", "error", err)
	}
}

// messageID falls back to a synthetic id for messages without a Message-ID header
func messageID(msg *email.Message, mailbox string) string {
	if id := strings.TrimSpace(msg.MessageID); id != "" {
		return id
	}
	return fmt.Sprintf("<uid-%d.%s@jobmail.local>", msg.UID, strings.ReplaceAll(mailbox, " ", "_"))
}

func joinAddresses(list []email.Address) string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return strings.Join(out, ", ")
}
