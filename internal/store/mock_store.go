// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	apps          map[string]*App
	appOrder      []string
	conversations map[string]*Conversation // keyed by conversation ID
	convOrder     []string
	messages      map[string][]*Message // keyed by conversation ID
	settings      map[string]string

	// WriteErr, when set, is returned by every mutating call.
	WriteErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		apps:          make(map[string]*App),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		settings:      make(map[string]string),
	}
}

// SetWriteErr makes subsequent writes fail with err (nil restores normal behavior).
func (m *MockStore) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteErr = err
}

// CreateApp stores a new app.
func (m *MockStore) CreateApp(ctx context.Context, app *App) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}

	if _, exists := m.apps[app.ID]; exists {
		return ErrDuplicateApp
	}
	a := *app
	m.apps[a.ID] = &a
	m.appOrder = append(m.appOrder, a.ID)
	return nil
}

// GetApp retrieves an app by ID.
func (m *MockStore) GetApp(ctx context.Context, id string) (*App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// ListApps returns apps in insertion order.
func (m *MockStore) ListApps(ctx context.Context) ([]*App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	apps := make([]*App, 0, len(m.appOrder))
	for _, id := range m.appOrder {
		a := *m.apps[id]
		apps = append(apps, &a)
	}
	return apps, nil
}

// DeleteApp removes an app.
func (m *MockStore) DeleteApp(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}

	if _, ok := m.apps[id]; !ok {
		return ErrNotFound
	}
	delete(m.apps, id)
	m.appOrder = removeID(m.appOrder, id)
	return nil
}

// CreateConversation stores a local conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}

	if _, exists := m.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	c := *conv
	m.conversations[c.ID] = &c
	m.convOrder = append(m.convOrder, c.ID)
	return nil
}

// GetConversation retrieves a local conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// ListConversations returns an app's conversations, newest first.
func (m *MockStore) ListConversations(ctx context.Context, appID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for i := len(m.convOrder) - 1; i >= 0; i-- {
		c := m.conversations[m.convOrder[i]]
		if c.AppID != appID {
			continue
		}
		cc := *c
		convs = append(convs, &cc)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

// RenameConversation sets a conversation's title.
func (m *MockStore) RenameConversation(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	c.Titled = true
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	m.deleteConversationLocked(id)
	return nil
}

// DeleteConversationsByApp removes all of an app's conversations.
func (m *MockStore) DeleteConversationsByApp(ctx context.Context, appID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}

	var ids []string
	for id, c := range m.conversations {
		if c.AppID == appID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		m.deleteConversationLocked(id)
	}
	return len(ids), nil
}

func (m *MockStore) deleteConversationLocked(id string) {
	delete(m.conversations, id)
	delete(m.messages, id)
	m.convOrder = removeID(m.convOrder, id)
}

// SaveMessage appends or replaces a message by ID.
func (m *MockStore) SaveMessage(ctx context.Context, conversationID string, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}

	if _, ok := m.conversations[conversationID]; !ok {
		return fmt.Errorf("saving message to conversation %s: %w", conversationID, ErrNotFound)
	}

	for _, existing := range m.messages[conversationID] {
		if existing.ID == msg.ID {
			existing.Content = msg.Content
			return nil
		}
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg.Clone())
	return nil
}

// GetMessages returns copies of a conversation's messages in insertion order.
func (m *MockStore) GetMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[conversationID]
	msgs := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		msgs = append(msgs, msg.Clone())
	}
	return msgs, nil
}

// SetSetting stores a value; empty clears it.
func (m *MockStore) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}

	if value == "" {
		delete(m.settings, key)
		return nil
	}
	m.settings[key] = value
	return nil
}

// GetSetting returns a stored value or ErrNotFound.
func (m *MockStore) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
