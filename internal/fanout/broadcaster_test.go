// ABOUTME: Tests for the snapshot fan-out broadcaster
// ABOUTME: Covers subscribe, publish, latest-wins mailboxes, unsubscribe, concurrency

package fanout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Version uint64
	Payload string
}

func recvOne(t *testing.T, ch <-chan snapshot) snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return snapshot{}
	}
}

func TestBroadcaster_SingleSubscriberReceivesSnapshot(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "conv-1")

	b.Publish("conv-1", 1, snapshot{Version: 1, Payload: "hello"})

	got := recvOne(t, ch)
	assert.Equal(t, "hello", got.Payload)
}

func TestBroadcaster_MultipleSubscribersReceiveSameSnapshot(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "conv-1")
	ch2, _ := b.Subscribe(ctx, "conv-1")
	ch3, _ := b.Subscribe(ctx, "conv-1")

	b.Publish("conv-1", 1, snapshot{Version: 1, Payload: "state"})

	for i, ch := range []<-chan snapshot{ch1, ch2, ch3} {
		got := recvOne(t, ch)
		assert.Equal(t, "state", got.Payload, "subscriber %d got wrong snapshot", i)
	}
}

func TestBroadcaster_DifferentKeysAreIsolated(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "conv-1")
	ch2, _ := b.Subscribe(ctx, "conv-2")

	b.Publish("conv-1", 1, snapshot{Version: 1, Payload: "for conv-1"})

	got := recvOne(t, ch1)
	assert.Equal(t, "for conv-1", got.Payload)

	select {
	case <-ch2:
		t.Fatal("subscriber for conv-2 should not receive snapshots for conv-1")
	case <-time.After(100 * time.Millisecond):
		// Expected: no snapshot
	}
}

func TestBroadcaster_SlowConsumerKeepsNewestOnly(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "conv-1")

	// Publish many snapshots before the consumer reads anything
	for v := uint64(1); v <= 50; v++ {
		b.Publish("conv-1", v, snapshot{Version: v, Payload: fmt.Sprintf("v%d", v)})
	}

	got := recvOne(t, ch)
	assert.Equal(t, uint64(50), got.Version, "only the newest snapshot survives")

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_StaleVersionDiscarded(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "conv-1")

	b.Publish("conv-1", 5, snapshot{Version: 5, Payload: "new"})
	got := recvOne(t, ch)
	assert.Equal(t, uint64(5), got.Version)

	// A late initial snapshot with an older version must not be delivered
	b.SendTo("conv-1", subID, 3, snapshot{Version: 3, Payload: "stale"})

	select {
	case stale := <-ch:
		t.Fatalf("stale snapshot delivered after newer one: %v", stale)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_SendToReachesOnlyTarget(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ctx := t.Context()
	ch1, subID1 := b.Subscribe(ctx, "conv-1")
	ch2, _ := b.Subscribe(ctx, "conv-1")

	b.SendTo("conv-1", subID1, 1, snapshot{Version: 1, Payload: "initial"})

	got := recvOne(t, ch1)
	assert.Equal(t, "initial", got.Payload)

	select {
	case <-ch2:
		t.Fatal("SendTo must not reach other subscribers")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_DeliveryOrderIsMonotonic(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "conv-1")

	done := make(chan struct{})
	var lastSeen uint64
	go func() {
		defer close(done)
		for s := range ch {
			if s.Version <= lastSeen {
				t.Errorf("version %d delivered after %d", s.Version, lastSeen)
			}
			lastSeen = s.Version
			if s.Version >= 200 {
				return
			}
		}
	}()

	for v := uint64(1); v <= 200; v++ {
		b.Publish("conv-1", v, snapshot{Version: v})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never saw the final version")
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := b.Subscribe(ctx, "conv-1")

	b.mu.RLock()
	_, exists := b.subscribers["conv-1"][subID]
	b.mu.RUnlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	// Give cleanup goroutine time to run
	time.Sleep(50 * time.Millisecond)

	b.mu.RLock()
	subs, convExists := b.subscribers["conv-1"]
	if convExists {
		_, subExists := subs[subID]
		assert.False(t, subExists, "subscription should be removed after context cancel")
	}
	b.mu.RUnlock()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "conv-1")

	b.Unsubscribe("conv-1", subID)
	b.Unsubscribe("conv-1", subID) // second call is a no-op

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe should not panic
	b.Publish("conv-1", 1, snapshot{Version: 1})
}

func TestBroadcaster_UnsubscribeConcurrentWithPublish(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		key := fmt.Sprintf("conv-%d", i%4)
		_, subID := b.Subscribe(t.Context(), key)

		wg.Go(func() {
			for v := uint64(1); v <= 50; v++ {
				b.Publish(key, v, snapshot{Version: v})
			}
		})
		wg.Go(func() {
			b.Unsubscribe(key, subID)
		})
	}
	wg.Wait()
	// No panic from sending on a closed channel means delivery and
	// unsubscription are safe to race.
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := New[snapshot](nil)

	ch1, _ := b.Subscribe(t.Context(), "conv-1")
	ch2, _ := b.Subscribe(t.Context(), "conv-2")

	b.Close()

	for i, ch := range []<-chan snapshot{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}

	// Subscribing after Close yields an already-closed channel
	ch3, _ := b.Subscribe(t.Context(), "conv-3")
	_, ok := <-ch3
	assert.False(t, ok)
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	ctx := t.Context()
	_, id1 := b.Subscribe(ctx, "conv-1")
	_, id2 := b.Subscribe(ctx, "conv-1")
	_, id3 := b.Subscribe(ctx, "conv-2")

	require.NotEqual(t, id1, id2)
	require.NotEqual(t, id1, id3)
	require.NotEqual(t, id2, id3)
}

func TestBroadcaster_PublishToNonexistentKey(t *testing.T) {
	b := New[snapshot](nil)
	defer b.Close()

	// Should not panic
	b.Publish("nobody-listening", 1, snapshot{Version: 1})
}
