package ingest

import (
	"errors"
	"time"
)

// StartScheduler triggers a live run every interval until Shutdown. A tick that finds
// a run in progress is skipped.
func (s *Service) StartScheduler(interval time.Duration) {
	if interval <= 0 || !s.enter() {
		return
	}

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info("Scheduler started", "interval", interval)
		for {
			select {
			case <-s.quit:
				s.logger.Info("Scheduler stopped")
				return
			case <-ticker.C:
				id, err := s.Trigger()
				switch {
				case errors.Is(err, ErrRunInProgress):
					s.logger.Debug("Previous run still in progress, skipping tick")
				case errors.Is(err, ErrShuttingDown):
					return
				case err != nil:
					s.logger.Error("Scheduled trigger failed", "error", err)
				default:
					s.logger.Debug("Scheduled run triggered", "run_id", id)
				}
			}
		}
	}()
}
