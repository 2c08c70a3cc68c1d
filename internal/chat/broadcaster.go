// ABOUTME: In-memory fan-out of timeline and conversation-list events
// ABOUTME: Lets the HTTP API and REPL observe streaming updates without polling

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventType names what changed.
type EventType string

const (
	// EventAppend is a new message at the end of the timeline.
	EventAppend EventType = "message"
	// EventUpdate carries the full current content of one message.
	EventUpdate EventType = "update"
	// EventReset means the timeline was replaced or cleared.
	EventReset EventType = "reset"
	// EventConversations means the conversation list or selection changed.
	EventConversations EventType = "conversations"
	// EventState reports a send state transition.
	EventState EventType = "state"
)

// Event is published on every observable change.
type Event struct {
	Type           EventType        `json:"type"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Message        *store.Message   `json:"message,omitempty"`
	Messages       []*store.Message `json:"messages,omitempty"`
	State          SendState        `json:"state,omitempty"`
}

// Broadcaster provides in-memory pub/sub for Events.
// Update events carry the whole message content, so a subscriber that
// misses some still converges on the next one it receives.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event // subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and ID.
// The subscription is cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends an event to every subscriber.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"sub_id", id,
				"type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
