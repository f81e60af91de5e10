// Package eventlog is the append-only pipeline event log. Appends are serialized so ids
// are published in the same order they are stored; readers either replay from a cursor
// or subscribe to live entries.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// pruneEvery is how many appends happen between retention checks
const pruneEvery = 100

// Store persists log entries
type Store interface {
	InsertLogEntry(ctx context.Context, entry *models.IngestLogEntry) error
	ListLogAfter(ctx context.Context, cursor int64, limit int) ([]*models.IngestLogEntry, error)
	ListLogTail(ctx context.Context, n int) ([]*models.IngestLogEntry, error)
	PruneLog(ctx context.Context, keep int) (int64, error)
}

// Options for the log
type Options struct {
	Retention int // rows kept, 0 keeps everything
	ReplayMax int // max rows per replay or tail read
	Buffer    int // per-subscriber live buffer
}

// Log is the event log
type Log struct {
	store  Store
	broker *Broker
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	appended int
}

// New creates an event log
func New(store Store, opts Options, logger *slog.Logger) *Log {
	if opts.ReplayMax <= 0 {
		opts.ReplayMax = 500
	}
	return &Log{
		store:  store,
		broker: NewBroker(opts.Buffer),
		opts:   opts,
		logger: logger.With("component", "eventlog"),
	}
}

// Append stores the entry, assigning its id, then publishes it
func (l *Log) Append(ctx context.Context, entry *models.IngestLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.InsertLogEntry(ctx, entry); err != nil {
		l.logger.Error("Failed to append log entry", "phase", entry.Phase, "status", entry.Status, "uid", entry.UID, "error", err)
		return err
	}
	l.broker.Publish(entry)

	l.appended++
	if l.opts.Retention > 0 && l.appended >= pruneEvery {
		l.appended = 0
		if n, err := l.store.PruneLog(ctx, l.opts.Retention); err != nil {
			l.logger.Warn("Failed to prune log", "error", err)
		} else if n > 0 {
			l.logger.Debug("Pruned log", "deleted", n)
		}
	}
	return nil
}

// Record is a shorthand for Append that logs instead of returning the error
func (l *Log) Record(ctx context.Context, phase models.Phase, status string, fill func(e *models.IngestLogEntry)) *models.IngestLogEntry {
	entry := &models.IngestLogEntry{Phase: phase, Status: status}
	if fill != nil {
		fill(entry)
	}
	_ = l.Append(ctx, entry)
	return entry
}

// Replay returns entries with id > cursor, at most limit (capped by ReplayMax)
func (l *Log) Replay(ctx context.Context, cursor int64, limit int) ([]*models.IngestLogEntry, error) {
	entries, err := l.store.ListLogAfter(ctx, cursor, l.clamp(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to replay log: %w", err)
	}
	return entries, nil
}

// Tail returns the last n entries in id order (capped by ReplayMax)
func (l *Log) Tail(ctx context.Context, n int) ([]*models.IngestLogEntry, error) {
	entries, err := l.store.ListLogTail(ctx, l.clamp(n))
	if err != nil {
		return nil, fmt.Errorf("failed to read log tail: %w", err)
	}
	return entries, nil
}

// Subscribe registers a live subscriber
func (l *Log) Subscribe() *Subscription {
	return l.broker.Subscribe()
}

// Unsubscribe removes a live subscriber
func (l *Log) Unsubscribe(sub *Subscription) {
	l.broker.Unsubscribe(sub)
}

// Subscribers returns the number of live subscribers
func (l *Log) Subscribers() int {
	return l.broker.Subscribers()
}

// ReplayMax is the per-read cap
func (l *Log) ReplayMax() int {
	return l.opts.ReplayMax
}

func (l *Log) clamp(n int) int {
	if n <= 0 || n > l.opts.ReplayMax {
		return l.opts.ReplayMax
	}
	return n
}

// Follow emits live entries from sub in id order starting after cursor. When entries were
// dropped for a lagging subscriber the missing range is read back from storage, either when
// the next live entry shows a gap or as soon as the drop is signalled.
// It returns when ctx is done, the subscription is closed, or emit fails.
func (l *Log) Follow(ctx context.Context, sub *Subscription, cursor int64, emit func(*models.IngestLogEntry) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Lagged():
			var err error
			if cursor, err = l.catchUp(ctx, cursor, math.MaxInt64, emit); err != nil {
				return err
			}
		case entry, ok := <-sub.C:
			if !ok {
				return nil
			}
			if entry.ID <= cursor {
				continue
			}
			if entry.ID > cursor+1 {
				var err error
				if cursor, err = l.catchUp(ctx, cursor, entry.ID, emit); err != nil {
					return err
				}
			}
			if err := emit(entry); err != nil {
				return err
			}
			cursor = entry.ID
		}
	}
}

// catchUp emits stored entries in (cursor, until) and returns the new cursor
func (l *Log) catchUp(ctx context.Context, cursor, until int64, emit func(*models.IngestLogEntry) error) (int64, error) {
	for cursor < until-1 {
		batch, err := l.Replay(ctx, cursor, l.opts.ReplayMax)
		if err != nil {
			return cursor, err
		}
		progressed := false
		for _, e := range batch {
			if e.ID >= until {
				return cursor, nil
			}
			if err := emit(e); err != nil {
				return cursor, err
			}
			cursor = e.ID
			progressed = true
		}
		if !progressed || len(batch) < l.opts.ReplayMax {
			break
		}
	}
	return cursor, nil
}
