// ABOUTME: Per-kind strategy interface the engine dispatches through
// ABOUTME: Each App kind supplies one Backend; the engine never branches on kind

package chat

import (
	"context"

	"github.com/2389/parley/internal/backend"
	"github.com/2389/parley/internal/store"
)

// Backend implements the kind-specific half of every engine operation.
type Backend interface {
	ListConversations(ctx context.Context, app *store.App) ([]*store.Conversation, error)
	LoadMessages(ctx context.Context, app *store.App, conv *store.Conversation) ([]*store.Message, error)
	DeleteConversation(ctx context.Context, app *store.App, conv *store.Conversation) error
	RenameConversation(ctx context.Context, app *store.App, conv *store.Conversation, title string) error

	// BeginTurn runs after the placeholders are on the timeline and before
	// dispatch. It returns a conversation the engine must select, if it made one.
	BeginTurn(ctx context.Context, t *Turn) (*store.Conversation, error)

	// Dispatch opens the answer stream.
	Dispatch(ctx context.Context, t *Turn) (backend.Stream, error)

	// FinishTurn runs once the stream ended cleanly with the full answer.
	FinishTurn(ctx context.Context, t *Turn, conversationRef string) (Outcome, error)

	// FailTurn records a failed turn. t.Assistant already holds the error text.
	FailTurn(ctx context.Context, t *Turn) error
}

// Turn is one send in flight.
type Turn struct {
	App *store.App

	// Conversation is the selected conversation, or nil when the send
	// started with nothing selected. BeginTurn may fill it in.
	Conversation *store.Conversation

	// History is the timeline before this turn, oldest first.
	History []*store.Message

	User      *store.Message
	Assistant *store.Message
}

// Fresh reports whether the turn started without a selected conversation.
func (t *Turn) Fresh() bool {
	return t.Conversation == nil
}

// ConversationID is the conversation the turn persists into, or "".
func (t *Turn) ConversationID() string {
	if t.Conversation == nil {
		return ""
	}
	return t.Conversation.ID
}

// Outcome tells the engine what to do after a successful turn.
type Outcome struct {
	// Adopt is a server-assigned conversation to select and re-list for.
	Adopt string

	// Title, when set, is run in the background. It returns the new title
	// it applied to durable storage, or "" when it left the title alone.
	Title func(ctx context.Context) (string, error)
}
