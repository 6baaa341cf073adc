package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriptionBuffer is the per-subscriber queue depth. A subscriber that
// falls this far behind starts losing the newest events (at-most-once
// delivery; the publisher never blocks).
const subscriptionBuffer = 256

// Subscription is one consumer's bounded event queue. Events for any
// testId the subscription follows arrive on C in publish order.
type Subscription struct {
	id      string
	bus     *Bus
	mu      sync.Mutex
	testIDs map[string]bool
	closed  bool

	// C delivers marshaled event frames. Closed by Bus.Unsubscribe.
	C chan []byte

	dropped int64
}

// enqueue delivers one frame unless the subscription is closed. The lock
// orders the send against Unsubscribe's close, so a publisher can never
// send on a closed channel. Returns false when the frame was dropped
// because the queue is full.
func (s *Subscription) enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.C <- frame:
		return true
	default:
		s.dropped++
		return false
	}
}

// Follow adds a testId to the subscription's interest set.
func (s *Subscription) Follow(testID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testIDs[testID] = true
}

// Unfollow removes a testId from the interest set.
func (s *Subscription) Unfollow(testID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.testIDs, testID)
}

func (s *Subscription) follows(testID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.testIDs[testID]
}

// Bus is the in-process typed event publisher. Multi-producer,
// multi-consumer; per-testId ordering is preserved per subscriber because
// each publish appends to every matching queue before returning and each
// run has a single emitting loop per event kind.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	onDrop func() // optional drop counter hook
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// SetDropHook installs a callback invoked once per dropped frame.
func (b *Bus) SetDropHook(fn func()) { b.onDrop = fn }

// Subscribe registers a new subscriber with an empty interest set.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id:      uuid.New().String(),
		bus:     b,
		testIDs: make(map[string]bool),
		C:       make(chan []byte, subscriptionBuffer),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its queue. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.C)
	}
	sub.mu.Unlock()
}

// Publish marshals the event once and enqueues it on every subscription
// following the event's testId. Never blocks: a full queue drops the frame.
func (b *Bus) Publish(evt Event) {
	frame, err := json.Marshal(evt)
	if err != nil {
		slog.Error("Failed to marshal domain event",
			"type", evt.EventType(), "test_id", evt.EventTestID(), "error", err)
		return
	}

	testID := evt.EventTestID()

	// Snapshot subscribers under the read lock, send outside it.
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.follows(testID) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.enqueue(frame) {
			if b.onDrop != nil {
				b.onDrop()
			}
			slog.Warn("Subscriber queue full, dropping event",
				"subscription_id", sub.id, "type", evt.EventType(), "test_id", testID)
		}
	}
}

// SubscriberCount returns the number of registered subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
