// ABOUTME: Contracts for the hosted and direct-model chat backends
// ABOUTME: Adapters return a finite Stream of text chunks the engine folds into one message

package backend

import (
	"context"
	"strings"
	"time"

	"github.com/2389/parley/internal/store"
)

// Stream is a finite, non-restartable sequence of answer chunks.
//
// Recv returns the next chunk and io.EOF once the backend signals completion.
// Any other error ends the stream. Cancelling the context the stream was
// opened with aborts it; Close releases the underlying transport and is safe
// to call more than once.
type Stream interface {
	Recv() (string, error)

	// ConversationRef is the server-side conversation the exchange landed in.
	// Hosted streams learn it from the first event; it is empty otherwise.
	ConversationRef() string

	// Answer is the full text received so far.
	Answer() string

	Close() error
}

// RemoteConversation is a conversation as listed by a hosted backend.
type RemoteConversation struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// RemoteMessage is one query/answer exchange stored by a hosted backend.
type RemoteMessage struct {
	ID        string
	Query     string
	Answer    string
	CreatedAt time.Time
}

// HostedAdapter talks to a backend that owns conversation history.
type HostedAdapter interface {
	SendMessage(ctx context.Context, credential, query, user, conversationRef string) (Stream, error)
	ListConversations(ctx context.Context, credential, user string) ([]RemoteConversation, error)
	ListMessages(ctx context.Context, credential, conversationRef, user string) ([]RemoteMessage, error)
	DeleteConversation(ctx context.Context, credential, conversationRef, user string) error
	RenameConversation(ctx context.Context, credential, conversationRef, name, user string) error
}

// ChatMessage is a single role/content pair of completion history.
type ChatMessage struct {
	Role    string
	Content string
}

// CompletionRequest is everything a direct-model call needs.
// Messages are ordered oldest first and end with the new user turn.
type CompletionRequest struct {
	Credential   string
	Model        string
	SystemPrompt string
	Messages     []ChatMessage
}

// CompletionAdapter streams a chat completion from a model API.
type CompletionAdapter interface {
	StreamChat(ctx context.Context, req CompletionRequest) (Stream, error)
}

// TitleGenerator produces a short conversation title from the first exchange.
// It never fails; when no title can be produced it returns store.DefaultTitle.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, credential, model, userMessage, assistantMessage string) string
}

// CleanTitle trims whitespace and one pair of surrounding quote characters.
// An empty result becomes store.DefaultTitle.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if strings.HasPrefix(title, `"`) || strings.HasPrefix(title, "'") {
		title = title[1:]
	}
	if strings.HasSuffix(title, `"`) || strings.HasSuffix(title, "'") {
		title = title[:len(title)-1]
	}
	if title == "" {
		return store.DefaultTitle
	}
	return title
}
