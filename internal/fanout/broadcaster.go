// ABOUTME: In-memory fan-out broadcaster for live query snapshots
// ABOUTME: Delivers versioned snapshots to all subscribers of a key, latest-wins per subscriber

package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster provides in-memory pub/sub for live query results. Subscribers
// register for a key (a conversation ID, or a user ID for conversation lists)
// and receive full snapshots as the underlying data mutates.
//
// Each subscriber owns a single-slot mailbox: an undelivered snapshot is
// replaced by a newer one, so a slow consumer skips intermediate states but
// never observes an older snapshot after a newer one. Versions are assigned
// by the publisher under the same lock that serializes the mutation, which
// makes version order match data order.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber[T] // key -> subID -> sub
	logger      *slog.Logger
	closed      bool
}

type subscriber[T any] struct {
	mu          sync.Mutex
	ch          chan T
	lastVersion uint64
	seen        bool
	closed      bool
}

// deliver enqueues a snapshot unless the subscriber already holds or consumed
// a snapshot at least as new. Never blocks: the slot is drained first.
func (s *subscriber[T]) deliver(version uint64, v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.seen && version <= s.lastVersion {
		return false
	}
	s.lastVersion = version
	s.seen = true

	select {
	case s.ch <- v:
	default:
		// Slot occupied by an older snapshot; replace it
		select {
		case <-s.ch:
		default:
		}
		s.ch <- v
	}
	return true
}

func (s *subscriber[T]) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// New creates a broadcaster. Pass nil logger for default.
func New[T any](logger *slog.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]map[string]*subscriber[T]),
		logger:      logger.With("component", "fanout"),
	}
}

// Subscribe registers a subscriber for snapshots on the given key. Returns
// the receive channel and a subscription ID for SendTo/Unsubscribe. The
// channel is closed when the subscription ends; a closed channel means the
// live query is gone and the caller must re-subscribe for full state.
// The subscription is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, key string) (<-chan T, string) {
	subID := uuid.New().String()
	sub := &subscriber[T]{ch: make(chan T, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.shutdown()
		return sub.ch, subID
	}
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]*subscriber[T])
	}
	b.subscribers[key][subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return sub.ch, subID
}

// Publish sends a versioned snapshot to all subscribers of the given key.
// Non-blocking: slow subscribers keep only the newest snapshot.
func (b *Broadcaster[T]) Publish(key string, version uint64, v T) {
	b.mu.RLock()
	subs, ok := b.subscribers[key]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy subscribers under read lock to avoid holding it during delivery
	targets := make([]*subscriber[T], 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(version, v)
	}
}

// SendTo delivers a snapshot to a single subscriber, used for the initial
// full-state delivery right after Subscribe. Stale versions are discarded if
// a newer snapshot already reached the subscriber.
func (b *Broadcaster[T]) SendTo(key, subID string, version uint64, v T) {
	b.mu.RLock()
	sub, ok := b.subscribers[key][subID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	sub.deliver(version, v)
}

// Unsubscribe removes a subscription and closes its channel. Idempotent:
// unsubscribing an unknown or already-removed subscription is a no-op.
func (b *Broadcaster[T]) Unsubscribe(key, subID string) {
	b.mu.Lock()
	subs, ok := b.subscribers[key]
	if !ok {
		b.mu.Unlock()
		return
	}

	sub, exists := subs[subID]
	if !exists {
		b.mu.Unlock()
		return
	}

	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}
	b.mu.Unlock()

	sub.shutdown()

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber[T]
	for key, subs := range b.subscribers {
		for subID, sub := range subs {
			all = append(all, sub)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.shutdown()
	}

	b.logger.Debug("broadcaster closed")
}
