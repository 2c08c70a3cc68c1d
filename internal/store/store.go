// ABOUTME: Store interfaces and data types for parley persistence
// ABOUTME: Defines App, Conversation, Message and the local conversation store contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateApp is returned when trying to create an app whose ID is already taken
var ErrDuplicateApp = errors.New("app already exists")

// DefaultTitle is the placeholder title of a conversation that has not been named yet.
const DefaultTitle = "New Chat"

// DefaultIcon is used for apps created without an icon glyph.
const DefaultIcon = "🤖"

// Kind identifies which backend protocol an App talks to.
type Kind string

const (
	// KindHosted apps keep conversation history on the server (Dify-style).
	KindHosted Kind = "hosted"
	// KindDirectModel apps call a completion API; history is held locally.
	KindDirectModel Kind = "direct-model"
)

// Valid reports whether k is a known backend kind.
func (k Kind) Valid() bool {
	return k == KindHosted || k == KindDirectModel
}

// Role is the author of a message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// App is a configured chat target.
type App struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Icon         string    `json:"icon"`
	Kind         Kind      `json:"kind"`
	Credential   string    `json:"-"`                       // opaque secret; may be empty for direct-model apps using the server default
	Model        string    `json:"model,omitempty"`         // direct-model only
	SystemPrompt string    `json:"system_prompt,omitempty"` // direct-model only
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation is a named thread of messages.
type Conversation struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	RemoteID  string    `json:"remote_id,omitempty"` // hosted only: server-assigned conversation reference

	// Titled is set once a local conversation has been renamed, automatically
	// or explicitly. Titled conversations are never named automatically again.
	Titled bool `json:"titled,omitempty"`
}

// Message is a single turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy of m so callers can hand it out without sharing mutation.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// Setting keys for persisted selection state
const (
	SettingActiveApp          = "active_app_id"
	SettingActiveConversation = "active_conversation_id"
)

// AppStore persists the App collection
type AppStore interface {
	CreateApp(ctx context.Context, app *App) error
	GetApp(ctx context.Context, id string) (*App, error)
	ListApps(ctx context.Context) ([]*App, error)
	DeleteApp(ctx context.Context, id string) error
}

// LocalStore is the durable conversation store used by direct-model apps.
// Messages are kept in insertion order; saving a message whose ID already
// exists replaces its content in place.
type LocalStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, appID string) ([]*Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
	DeleteConversationsByApp(ctx context.Context, appID string) (int, error)

	SaveMessage(ctx context.Context, conversationID string, msg *Message) error
	GetMessages(ctx context.Context, conversationID string) ([]*Message, error)
}

// StateStore persists small key/value selection state
type StateStore interface {
	SetSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (string, error)
}

// Store is everything parley persists
type Store interface {
	AppStore
	LocalStore
	StateStore

	// Close releases any resources held by the store
	Close() error
}
