// ABOUTME: Tests for the Broadcaster fan-out pub/sub
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/store"
)

func makeEvent(id string) *Event {
	return &Event{
		Type:           EventUpdate,
		ConversationID: "conv-1",
		Message:        &store.Message{ID: id, Role: store.RoleAssistant, Content: "hello from " + id},
	}
}

func TestBroadcaster_SubscribersReceiveSameEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx)
	ch2, _ := b.Subscribe(ctx)

	b.Publish(makeEvent("evt-1"))

	for i, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, "evt-1", received.Message.ID, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	_, _ = b.Subscribe(ctx) // never read
	ch2, _ := b.Subscribe(ctx)

	for range 3 * subscriberBufferSize {
		b.Publish(makeEvent("overflow"))
	}

	receivedCount := 0
	for {
		select {
		case <-ch2:
			receivedCount++
		case <-time.After(200 * time.Millisecond):
			assert.Positive(t, receivedCount, "fast consumer should receive events")
			return
		}
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := b.Subscribe(ctx)

	b.mu.RLock()
	_, exists := b.subscribers[subID]
	b.mu.RUnlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	b.mu.RLock()
	_, exists = b.subscribers[subID]
	b.mu.RUnlock()
	assert.False(t, exists)
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context())
	b.Unsubscribe(subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Neither a second unsubscribe nor a publish may panic.
	b.Unsubscribe(subID)
	b.Publish(makeEvent("after-unsub"))
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Close()

	for i, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}

	late, _ := b.Subscribe(t.Context())
	_, ok := <-late
	assert.False(t, ok, "subscribing after Close returns a closed channel")
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, _ := b.Subscribe(ctx)
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}
	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish(makeEvent("concurrent"))
			}
		})
	}

	wg.Wait()
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, id1 := b.Subscribe(t.Context())
	_, id2 := b.Subscribe(t.Context())
	require.NotEqual(t, id1, id2)
}
