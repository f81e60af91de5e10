package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// Run end statuses
const (
	runDone      = "done"
	runError     = "error"
	runCancelled = "cancelled"
)

// execute walks one run through its phases. It always reaches run_end exactly once,
// including on panic, and returns the persisted run record.
func (s *Service) execute(ctx context.Context, r *run) (rec *models.IngestRun) {
	// Bookkeeping must survive cancellation of ctx
	dbctx := context.WithoutCancel(ctx)

	var (
		runErr error
		mb     Mailbox
	)
	defer func() {
		if p := recover(); p != nil {
			runErr = fmt.Errorf("panic: %v", p)
			s.logger.Error("Run panicked", "run_id", r.id, "panic", p, "stack", string(debug.Stack()))
		}
		if mb != nil {
			if err := mb.Close(); err != nil {
				s.logger.Debug("Failed to close mailbox", "error", err)
			}
		}
		rec = s.finish(dbctx, r, runErr)
	}()

	r.phase(models.PhaseSchemaEnsure)
	if err := s.db.Migrate(dbctx); err != nil {
		runErr = fmt.Errorf("schema: %w", err)
		return
	}
	s.logEntry(dbctx, r, models.PhaseSchemaEnsure, models.StatusDone, nil)

	r.phase(models.PhaseRunStart)
	s.logEntry(dbctx, r, models.PhaseRunStart, models.StatusStart, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("run=%s kind=%s mailbox=%s", r.id, r.kind, s.opts.Mailbox)
	})
	s.logger.Info("Run started", "run_id", r.id, "kind", r.kind)

	mb = s.dial()
	uids, commit, err := s.open(ctx, dbctx, r, mb)
	if err != nil {
		runErr = err
		return
	}

	s.fetchStage(ctx, dbctx, r, mb, uids, commit)
	if r.stopped() {
		return
	}

	s.parseStage(ctx, dbctx, r)
	return
}

// open connects, selects the mailbox and searches for candidate UIDs. commit is called
// for each UID once it and every UID before it reached a terminal state.
func (s *Service) open(ctx, dbctx context.Context, r *run, mb Mailbox) ([]uint32, func(uint32) error, error) {
	r.phase(models.PhaseIMAPConnect)
	s.logEntry(dbctx, r, models.PhaseIMAPConnect, models.StatusStart, nil)
	if err := mb.Connect(ctx); err != nil {
		return nil, nil, s.connectionError(dbctx, r, models.PhaseIMAPConnect, err)
	}
	s.logEntry(dbctx, r, models.PhaseIMAPConnect, models.StatusDone, nil)

	r.phase(models.PhaseMailboxOpen)
	s.logEntry(dbctx, r, models.PhaseMailboxOpen, models.StatusStart, nil)
	status, err := mb.Select(ctx, s.opts.Mailbox)
	if err != nil {
		return nil, nil, s.connectionError(dbctx, r, models.PhaseMailboxOpen, err)
	}
	s.logEntry(dbctx, r, models.PhaseMailboxOpen, models.StatusDone, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("messages=%d uidnext=%d uidvalidity=%d", status.Messages, status.UidNext, status.UidValidity)
	})

	r.phase(models.PhaseSearch)
	s.logEntry(dbctx, r, models.PhaseSearch, models.StatusStart, nil)

	var uids []uint32
	var commit func(uint32) error
	if r.kind == models.RunBackfill {
		uids, commit, err = s.searchBackfill(ctx, dbctx, mb)
	} else {
		uids, commit, err = s.searchLive(ctx, dbctx, mb)
	}
	if err != nil {
		return nil, nil, s.connectionError(dbctx, r, models.PhaseSearch, err)
	}

	s.logEntry(dbctx, r, models.PhaseSearch, models.StatusDone, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("candidates=%d", len(uids))
		if len(uids) > 0 {
			e.Detail += fmt.Sprintf(" first=%d last=%d", uids[0], uids[len(uids)-1])
		}
	})
	return uids, commit, nil
}

func (s *Service) connectionError(dbctx context.Context, r *run, phase models.Phase, err error) error {
	s.logEntry(dbctx, r, phase, models.StatusError, func(e *models.IngestLogEntry) {
		e.Detail = err.Error()
	})
	s.logger.Error("Run aborted", "run_id", r.id, "phase", phase, "error", err)
	return &ConnectionError{Phase: phase, Err: err}
}

// searchLive returns the UIDs above lastUid, oldest first. The first sync of a mailbox
// is limited to the newest MaxInitialSync UIDs and seeds the backfill window below them.
func (s *Service) searchLive(ctx, dbctx context.Context, mb Mailbox) ([]uint32, func(uint32) error, error) {
	var lastUID uint32
	state, err := s.db.GetSyncState(dbctx, s.opts.Mailbox)
	switch {
	case err == nil:
		lastUID = state.LastUID
	case !errors.Is(err, database.ErrNotFound):
		return nil, nil, err
	}

	var uids []uint32
	if lastUID == 0 {
		all, err := mb.SearchUIDs(ctx, 1, 0)
		if err != nil {
			return nil, nil, err
		}
		uids = all
		if limit := s.opts.MaxInitialSync; limit > 0 && len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}
		if len(uids) > 0 {
			s.seedBackfill(dbctx, uids[0], all[len(all)-1])
		}
	} else {
		uids, err = mb.SearchUIDs(ctx, lastUID+1, 0)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(uids) > s.opts.BatchLimit {
		uids = uids[:s.opts.BatchLimit]
	}

	commit := func(uid uint32) error {
		return s.db.AdvanceLastUID(dbctx, s.opts.Mailbox, uid)
	}
	return uids, commit, nil
}

// finish writes run_end, the run record and the notification
func (s *Service) finish(dbctx context.Context, r *run, runErr error) *models.IngestRun {
	status := runDone
	switch {
	case runErr != nil:
		status = runError
	case r.stopped():
		status = runCancelled
	}

	pending, err := s.db.CountPendingEmails(dbctx, s.opts.Mailbox)
	if err != nil {
		s.logger.Warn("Failed to count pending emails", "error", err)
	}

	now := time.Now()
	r.update(func(m *Metrics) {
		m.End = &now
		m.InProgress = false
		m.CurrentPhase = models.PhaseRunEnd
		m.Status = status
		m.Parse.PendingQueue = pending
		if runErr != nil {
			m.Error = runErr.Error()
		}
	})

	m := r.snapshot()
	rec := m.record()
	if err := s.db.InsertRun(dbctx, rec); err != nil {
		s.logger.Error("Failed to store run", "run_id", r.id, "error", err)
	}

	s.logEntry(dbctx, r, models.PhaseRunEnd, status, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("run=%s stored=%d skipped=%d parsed=%d errors=%d tokens=%d cost_usd=%.6f duration_ms=%d",
			r.id, rec.Stored, rec.Skipped, rec.Parsed, rec.Errors, rec.Tokens, rec.CostUSD, m.DurationMs)
		if rec.Error != "" {
			e.Detail += " error=" + rec.Error
		}
	})
	s.endRun(r)

	s.logger.Info("Run finished",
		"run_id", r.id,
		"kind", r.kind,
		"status", status,
		"stored", rec.Stored,
		"skipped", rec.Skipped,
		"parsed", rec.Parsed,
		"errors", rec.Errors,
		"cost_usd", rec.CostUSD,
	)

	if s.notifier != nil {
		s.notifier.RunFinished(dbctx, rec)
	}
	return rec
}
