package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// BackfillStatus is the backfill window plus the current or last batch
type BackfillStatus struct {
	State     *models.BackfillState `json:"state"`
	Running   bool                  `json:"running"`
	Exhausted bool                  `json:"exhausted"`
	Run       Metrics               `json:"run"`
}

// Backfill returns the backfill status. State is nil before the first live sync.
func (s *Service) Backfill(ctx context.Context) (*BackfillStatus, error) {
	st := &BackfillStatus{
		Running: s.locks.Held(s.backfillKey()),
		Run:     s.status(models.RunBackfill),
	}
	state, err := s.db.GetBackfillState(ctx, s.opts.Mailbox)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if state != nil {
		st.State = state
		st.Exhausted = state.Exhausted()
	}
	return st, nil
}

// StartBackfill marks the window active and walks it downward in batches in the
// background until it is exhausted, stopped or a batch fails.
func (s *Service) StartBackfill(ctx context.Context) error {
	if !s.enter() {
		return ErrShuttingDown
	}
	release, ok := s.locks.TryAcquire(s.backfillKey())
	if !ok {
		s.wg.Done()
		return ErrBackfillActive
	}
	abort := func(err error) error {
		release()
		s.wg.Done()
		return err
	}

	state, err := s.backfillWindow(ctx)
	if err != nil {
		return abort(err)
	}
	if state.Exhausted() {
		return abort(ErrBackfillExhausted)
	}

	now := time.Now().UTC()
	state.Active = true
	state.StartedAt = &now
	if err := s.db.SaveBackfillState(ctx, state); err != nil {
		return abort(err)
	}

	s.events.Record(ctx, models.PhaseBackfill, models.StatusStart, func(e *models.IngestLogEntry) {
		e.Detail = fmt.Sprintf("lowest=%d highest=%d", state.LowestUIDProcessed, state.HighestUIDSeen)
	})
	s.logger.Info("Backfill started", "lowest", state.LowestUIDProcessed, "highest", state.HighestUIDSeen)

	go func() {
		defer s.wg.Done()
		defer release()
		s.backfillLoop(s.ctx)
	}()
	return nil
}

// StopBackfill pauses backfill. The window is kept and a later start resumes below it.
func (s *Service) StopBackfill(ctx context.Context) error {
	if err := s.db.SetBackfillActive(ctx, s.opts.Mailbox, false); err != nil {
		return err
	}

	s.mu.Lock()
	r := s.runs[models.RunBackfill]
	s.mu.Unlock()
	if r != nil {
		r.stop.Store(true)
	}

	s.events.Record(ctx, models.PhaseBackfill, models.StatusCancelled, func(e *models.IngestLogEntry) {
		e.Detail = "stop requested"
	})
	return nil
}

func (s *Service) backfillLoop(ctx context.Context) {
	dbctx := context.WithoutCancel(ctx)

	finish := func(status, detail string) {
		s.events.Record(dbctx, models.PhaseBackfill, status, func(e *models.IngestLogEntry) {
			e.Detail = detail
		})
		s.logger.Info("Backfill finished", "status", status, "detail", detail)
	}

	for {
		if s.closing() {
			finish(models.StatusCancelled, "shutdown")
			return
		}

		state, err := s.db.GetBackfillState(dbctx, s.opts.Mailbox)
		if err != nil {
			finish(models.StatusError, err.Error())
			return
		}
		if !state.Active {
			finish(models.StatusDone, fmt.Sprintf("paused at lowest=%d", state.LowestUIDProcessed))
			return
		}
		if state.Exhausted() {
			if err := s.db.SetBackfillActive(dbctx, s.opts.Mailbox, false); err != nil {
				s.logger.Error("Failed to deactivate backfill", "error", err)
			}
			finish(models.StatusDone, "exhausted")
			return
		}

		rec := s.execute(ctx, s.startRun(models.RunBackfill))
		switch rec.Status {
		case runError:
			finish(models.StatusError, fmt.Sprintf("batch %s failed: %s", rec.ID, rec.Error))
			return
		case runCancelled:
			finish(models.StatusCancelled, fmt.Sprintf("batch %s cancelled", rec.ID))
			return
		}

		after, err := s.db.GetBackfillState(dbctx, s.opts.Mailbox)
		if err != nil {
			finish(models.StatusError, err.Error())
			return
		}
		if after.LowestUIDProcessed == state.LowestUIDProcessed && !after.Exhausted() {
			// The newest UID of the batch keeps failing; stop instead of spinning on it
			if err := s.db.SetBackfillActive(dbctx, s.opts.Mailbox, false); err != nil {
				s.logger.Error("Failed to deactivate backfill", "error", err)
			}
			finish(models.StatusError, fmt.Sprintf("no progress below uid %d", state.LowestUIDProcessed))
			return
		}
	}
}

// backfillWindow returns the stored window, creating it below the live cursor if needed
func (s *Service) backfillWindow(ctx context.Context) (*models.BackfillState, error) {
	state, err := s.db.GetBackfillState(ctx, s.opts.Mailbox)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	live, err := s.db.GetSyncState(ctx, s.opts.Mailbox)
	if errors.Is(err, database.ErrNotFound) || (err == nil && live.LastUID == 0) {
		return nil, ErrBackfillNotReady
	}
	if err != nil {
		return nil, err
	}

	return &models.BackfillState{
		Mailbox:            s.opts.Mailbox,
		HighestUIDSeen:     live.LastUID,
		LowestUIDProcessed: live.LastUID + 1,
		ModelVersion:       s.header.ModelVersion(),
	}, nil
}

// seedBackfill records the window left below the first live sync. An existing window is kept.
func (s *Service) seedBackfill(dbctx context.Context, lowest, highest uint32) {
	if _, err := s.db.GetBackfillState(dbctx, s.opts.Mailbox); err == nil || !errors.Is(err, database.ErrNotFound) {
		return
	}
	state := &models.BackfillState{
		Mailbox:            s.opts.Mailbox,
		HighestUIDSeen:     highest,
		LowestUIDProcessed: lowest,
		ModelVersion:       s.header.ModelVersion(),
	}
	if err := s.db.SaveBackfillState(dbctx, state); err != nil {
		s.logger.Warn("Failed to seed backfill window", "error", err)
	}
}

// searchBackfill returns the next batch below the backfill cursor, newest first
func (s *Service) searchBackfill(ctx, dbctx context.Context, mb Mailbox) ([]uint32, func(uint32) error, error) {
	state, err := s.db.GetBackfillState(dbctx, s.opts.Mailbox)
	if err != nil {
		return nil, nil, err
	}

	var uids []uint32
	if state.LowestUIDProcessed > 1 {
		uids, err = mb.SearchUIDs(ctx, 1, state.LowestUIDProcessed-1)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(uids) == 0 {
		// Nothing older is left; mark the window exhausted
		if err := s.db.LowerBackfillCursor(dbctx, s.opts.Mailbox, 1); err != nil {
			return nil, nil, err
		}
		return nil, func(uint32) error { return nil }, nil
	}

	if len(uids) > s.opts.BatchLimit {
		uids = uids[len(uids)-s.opts.BatchLimit:]
	}
	uids = slices.Clone(uids)
	slices.Reverse(uids)

	commit := func(uid uint32) error {
		return s.db.LowerBackfillCursor(dbctx, s.opts.Mailbox, uid)
	}
	return uids, commit, nil
}
