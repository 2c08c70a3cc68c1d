// ABOUTME: Message Timeline holding the ordered messages of the selected conversation
// ABOUTME: Mutations are keyed by message ID so stale stream updates become harmless no-ops

package chat

import (
	"sync"

	"github.com/2389/parley/internal/store"
)

// Timeline is the ordered message list currently on display.
// It is safe for concurrent use. Calls to UpdateContent for the same ID are
// applied in the order they are made.
type Timeline struct {
	mu             sync.RWMutex
	conversationID string
	messages       []*store.Message
	index          map[string]int // message ID -> position
	events         *Broadcaster
}

// NewTimeline creates an empty timeline publishing to events (may be nil).
func NewTimeline(events *Broadcaster) *Timeline {
	return &Timeline{
		index:  make(map[string]int),
		events: events,
	}
}

// Load replaces the timeline with msgs for conversationID.
func (t *Timeline) Load(conversationID string, msgs []*store.Message) {
	t.mu.Lock()
	t.conversationID = conversationID
	t.messages = make([]*store.Message, 0, len(msgs))
	t.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		t.index[m.ID] = len(t.messages)
		t.messages = append(t.messages, m.Clone())
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.publish(&Event{Type: EventReset, ConversationID: conversationID, Messages: snapshot})
}

// Clear empties the timeline without touching any store.
func (t *Timeline) Clear() {
	t.Load("", nil)
}

// Attach labels the current messages as belonging to conversationID without
// replacing them. Used when a send creates or discovers its conversation.
func (t *Timeline) Attach(conversationID string) {
	t.mu.Lock()
	t.conversationID = conversationID
	t.mu.Unlock()
}

// Append adds msg at the end.
func (t *Timeline) Append(msg *store.Message) {
	c := msg.Clone()

	t.mu.Lock()
	if pos, exists := t.index[c.ID]; exists {
		t.messages[pos] = c
	} else {
		t.index[c.ID] = len(t.messages)
		t.messages = append(t.messages, c)
	}
	convID := t.conversationID
	t.mu.Unlock()

	t.publish(&Event{Type: EventAppend, ConversationID: convID, Message: c.Clone()})
}

// UpdateContent replaces the content of the message with id. It reports
// false, and changes nothing, when no such message is on display. Unchanged
// content publishes nothing.
func (t *Timeline) UpdateContent(id, content string) bool {
	t.mu.Lock()
	pos, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if t.messages[pos].Content == content {
		t.mu.Unlock()
		return true
	}
	t.messages[pos].Content = content
	updated := t.messages[pos].Clone()
	convID := t.conversationID
	t.mu.Unlock()

	t.publish(&Event{Type: EventUpdate, ConversationID: convID, Message: updated})
	return true
}

// Messages returns a copy of the timeline.
func (t *Timeline) Messages() []*store.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// ConversationID is the conversation the timeline belongs to, or "".
func (t *Timeline) ConversationID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conversationID
}

func (t *Timeline) snapshotLocked() []*store.Message {
	out := make([]*store.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

func (t *Timeline) publish(e *Event) {
	if t.events != nil {
		t.events.Publish(e)
	}
}
