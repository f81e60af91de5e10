package ingest

import (
	"sync"
	"time"
)

// RunLock grants at most one holder per key. The returned release func is safe to call
// more than once, so it can be deferred next to a panic handler.
type RunLock struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewRunLock creates an empty lock table
func NewRunLock() *RunLock {
	return &RunLock{held: make(map[string]time.Time)}
}

// TryAcquire takes the lock for key without waiting
func (l *RunLock) TryAcquire(key string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false
	}
	l.held[key] = time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}

// Held reports whether key is currently locked
func (l *RunLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
