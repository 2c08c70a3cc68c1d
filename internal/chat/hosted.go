// ABOUTME: Backend strategy for hosted apps whose history lives on the server
// ABOUTME: Lists, loads and mutates conversations through a backend.HostedAdapter

package chat

import (
	"context"
	"sort"

	"github.com/2389/parley/internal/backend"
	"github.com/2389/parley/internal/store"
)

// DefaultUser is the user handle sent to hosted backends.
const DefaultUser = "user-123"

type hostedBackend struct {
	adapter backend.HostedAdapter
	user    string
}

// NewHostedBackend returns the Backend for store.KindHosted apps.
func NewHostedBackend(adapter backend.HostedAdapter, user string) Backend {
	if user == "" {
		user = DefaultUser
	}
	return &hostedBackend{adapter: adapter, user: user}
}

func (h *hostedBackend) ListConversations(ctx context.Context, app *store.App) ([]*store.Conversation, error) {
	remote, err := h.adapter.ListConversations(ctx, app.Credential, h.user)
	if err != nil {
		return nil, err
	}

	convs := make([]*store.Conversation, 0, len(remote))
	for _, r := range remote {
		title := r.Name
		if title == "" {
			title = store.DefaultTitle
		}
		convs = append(convs, &store.Conversation{
			ID:        r.ID,
			AppID:     app.ID,
			Title:     title,
			CreatedAt: r.CreatedAt,
			RemoteID:  r.ID,
		})
	}
	return convs, nil
}

// LoadMessages flattens server exchanges into user/assistant pairs, oldest first.
func (h *hostedBackend) LoadMessages(ctx context.Context, app *store.App, conv *store.Conversation) ([]*store.Message, error) {
	exchanges, err := h.adapter.ListMessages(ctx, app.Credential, remoteRef(conv), h.user)
	if err != nil {
		return nil, err
	}
	return FlattenExchanges(exchanges), nil
}

// FlattenExchanges sorts exchanges by server time and expands each into a
// "<id>-user" and "<id>-assistant" message, skipping empty halves.
func FlattenExchanges(exchanges []backend.RemoteMessage) []*store.Message {
	sorted := make([]backend.RemoteMessage, len(exchanges))
	copy(sorted, exchanges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	msgs := make([]*store.Message, 0, 2*len(sorted))
	for _, ex := range sorted {
		if ex.Query != "" {
			msgs = append(msgs, &store.Message{
				ID:        ex.ID + "-user",
				Role:      store.RoleUser,
				Content:   ex.Query,
				CreatedAt: ex.CreatedAt,
			})
		}
		if ex.Answer != "" {
			msgs = append(msgs, &store.Message{
				ID:        ex.ID + "-assistant",
				Role:      store.RoleAssistant,
				Content:   ex.Answer,
				CreatedAt: ex.CreatedAt,
			})
		}
	}
	return msgs
}

func (h *hostedBackend) DeleteConversation(ctx context.Context, app *store.App, conv *store.Conversation) error {
	return h.adapter.DeleteConversation(ctx, app.Credential, remoteRef(conv), h.user)
}

func (h *hostedBackend) RenameConversation(ctx context.Context, app *store.App, conv *store.Conversation, title string) error {
	return h.adapter.RenameConversation(ctx, app.Credential, remoteRef(conv), title, h.user)
}

// BeginTurn does nothing: the server creates conversations on first message.
func (h *hostedBackend) BeginTurn(ctx context.Context, t *Turn) (*store.Conversation, error) {
	return nil, nil
}

func (h *hostedBackend) Dispatch(ctx context.Context, t *Turn) (backend.Stream, error) {
	ref := ""
	if t.Conversation != nil {
		ref = remoteRef(t.Conversation)
	}
	return h.adapter.SendMessage(ctx, t.App.Credential, t.User.Content, h.user, ref)
}

func (h *hostedBackend) FinishTurn(ctx context.Context, t *Turn, conversationRef string) (Outcome, error) {
	if t.Fresh() && conversationRef != "" {
		return Outcome{Adopt: conversationRef}, nil
	}
	return Outcome{}, nil
}

// FailTurn keeps nothing locally; the server owns history.
func (h *hostedBackend) FailTurn(ctx context.Context, t *Turn) error {
	return nil
}

func remoteRef(conv *store.Conversation) string {
	if conv.RemoteID != "" {
		return conv.RemoteID
	}
	return conv.ID
}
