// ABOUTME: Backend strategy for direct-model apps whose history is held locally
// ABOUTME: Persists every turn to the LocalStore and names new conversations after the first answer

package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/backend"
	"github.com/2389/parley/internal/store"
)

type localBackend struct {
	store       store.LocalStore
	completions backend.CompletionAdapter
	titles      backend.TitleGenerator // may be nil
}

// NewLocalBackend returns the Backend for store.KindDirectModel apps.
func NewLocalBackend(local store.LocalStore, completions backend.CompletionAdapter, titles backend.TitleGenerator) Backend {
	return &localBackend{
		store:       local,
		completions: completions,
		titles:      titles,
	}
}

func (l *localBackend) ListConversations(ctx context.Context, app *store.App) ([]*store.Conversation, error) {
	return l.store.ListConversations(ctx, app.ID)
}

func (l *localBackend) LoadMessages(ctx context.Context, app *store.App, conv *store.Conversation) ([]*store.Message, error) {
	return l.store.GetMessages(ctx, conv.ID)
}

func (l *localBackend) DeleteConversation(ctx context.Context, app *store.App, conv *store.Conversation) error {
	return l.store.DeleteConversation(ctx, conv.ID)
}

func (l *localBackend) RenameConversation(ctx context.Context, app *store.App, conv *store.Conversation, title string) error {
	return l.store.RenameConversation(ctx, conv.ID, title)
}

// BeginTurn creates a conversation when none is selected, then persists both
// placeholders so nothing is lost if the dispatch fails.
func (l *localBackend) BeginTurn(ctx context.Context, t *Turn) (*store.Conversation, error) {
	var created *store.Conversation
	if t.Fresh() {
		created = &store.Conversation{
			ID:        uuid.New().String(),
			AppID:     t.App.ID,
			Title:     store.DefaultTitle,
			CreatedAt: time.Now(),
		}
		if err := l.store.CreateConversation(ctx, created); err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		t.Conversation = created
	}

	for _, m := range []*store.Message{t.User, t.Assistant} {
		if err := l.store.SaveMessage(ctx, t.Conversation.ID, m); err != nil {
			return created, fmt.Errorf("persisting %s message: %w", m.Role, err)
		}
	}
	return created, nil
}

// Dispatch sends the prior history plus the new user message. Turns that
// never received content are left out of the history.
func (l *localBackend) Dispatch(ctx context.Context, t *Turn) (backend.Stream, error) {
	history := make([]backend.ChatMessage, 0, len(t.History)+1)
	for _, m := range t.History {
		if m.Content == "" {
			continue
		}
		history = append(history, backend.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	history = append(history, backend.ChatMessage{Role: string(store.RoleUser), Content: t.User.Content})

	return l.completions.StreamChat(ctx, backend.CompletionRequest{
		Credential:   t.App.Credential,
		Model:        t.App.Model,
		SystemPrompt: t.App.SystemPrompt,
		Messages:     history,
	})
}

// FinishTurn persists the final answer and, until the conversation has been
// titled once, schedules title generation.
func (l *localBackend) FinishTurn(ctx context.Context, t *Turn, conversationRef string) (Outcome, error) {
	convID := t.Conversation.ID
	if err := l.store.SaveMessage(ctx, convID, t.Assistant); err != nil {
		return Outcome{}, fmt.Errorf("persisting answer: %w", err)
	}

	if l.titles == nil {
		return Outcome{}, nil
	}
	conv, err := l.store.GetConversation(ctx, convID)
	if err != nil || conv.Titled {
		return Outcome{}, nil
	}

	app := t.App
	userText := t.User.Content
	answer := t.Assistant.Content
	return Outcome{
		Title: func(ctx context.Context) (string, error) {
			title := backend.CleanTitle(l.titles.GenerateTitle(ctx, app.Credential, app.Model, userText, answer))
			if title == store.DefaultTitle {
				return "", nil
			}
			// An explicit rename while the title was being generated wins.
			current, err := l.store.GetConversation(ctx, convID)
			if err != nil {
				return "", err
			}
			if current.Titled {
				return "", nil
			}
			if err := l.store.RenameConversation(ctx, convID, title); err != nil {
				return "", err
			}
			return title, nil
		},
	}, nil
}

// FailTurn persists the error text so the failure is visible on reload.
func (l *localBackend) FailTurn(ctx context.Context, t *Turn) error {
	if t.Conversation == nil {
		return nil
	}
	return l.store.SaveMessage(ctx, t.Conversation.ID, t.Assistant)
}
