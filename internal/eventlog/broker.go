package eventlog

import (
	"sync"
	"sync/atomic"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// Subscription receives live entries. Entries that do not fit in the buffer are
// dropped and Lagged fires, so the consumer can replay the gap from storage even when
// nothing else is appended.
type Subscription struct {
	C <-chan *models.IngestLogEntry

	id      uint64
	ch      chan *models.IngestLogEntry
	lag     chan struct{}
	dropped atomic.Int64
}

// Lagged receives a value after one or more entries were dropped
func (s *Subscription) Lagged() <-chan struct{} {
	return s.lag
}

// Dropped returns how many entries were dropped for this subscriber
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Broker fans out entries to subscribers without ever blocking the publisher
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
}

// NewBroker creates a broker with the given per-subscriber buffer
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan *models.IngestLogEntry, b.buffer)
	sub := &Subscription{C: ch, id: b.nextID, ch: ch, lag: make(chan struct{}, 1)}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers entry to every subscriber with room in its buffer
func (b *Broker) Publish(entry *models.IngestLogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- entry:
		default:
			sub.dropped.Add(1)
			select {
			case sub.lag <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribers returns the number of active subscribers
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
