// ABOUTME: Reconciliation Engine tying apps, conversations, the timeline and backends together
// ABOUTME: Implements the send protocol: optimistic placeholders, streaming updates, settle or fail

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/store"
)

// ErrorContent replaces the assistant placeholder when a send fails.
const ErrorContent = "Error: Failed to get response."

// persistTimeout bounds store writes made after the caller's context may be gone.
const persistTimeout = 5 * time.Second

var (
	// ErrEmptyInput is returned for blank messages.
	ErrEmptyInput = errors.New("message is empty")
	// ErrNoActiveApp is returned when an operation needs an active app.
	ErrNoActiveApp = errors.New("no active app")
	// ErrSendInProgress is returned while another send is in flight.
	ErrSendInProgress = errors.New("a message is already being sent")
	// ErrUnknownApp is returned for app IDs that are not configured.
	ErrUnknownApp = errors.New("unknown app")
	// ErrUnsupportedKind is returned when no backend serves an app's kind.
	ErrUnsupportedKind = errors.New("unsupported app kind")
	// ErrEmptyTitle is returned when renaming to a blank title.
	ErrEmptyTitle = errors.New("title is empty")
	// ErrInvalidApp is returned when an app fails validation.
	ErrInvalidApp = errors.New("invalid app")
)

// SendState is the phase of a send.
type SendState string

const (
	StateIdle        SendState = "idle"
	StateDispatching SendState = "dispatching"
	StateStreaming   SendState = "streaming"
	StateSettled     SendState = "settled"
	StateFailed      SendState = "failed"
)

// SendResult describes a finished send.
type SendResult struct {
	State              SendState `json:"state"`
	ConversationID     string    `json:"conversation_id,omitempty"`
	UserMessageID      string    `json:"user_message_id"`
	AssistantMessageID string    `json:"assistant_message_id"`
	Answer             string    `json:"answer"`
	Err                error     `json:"-"`
}

// Options configures an Engine.
type Options struct {
	Store store.Store

	// Backends maps each app kind to its strategy.
	Backends map[store.Kind]Backend

	// AllowEmptyCredential lets direct-model apps rely on a server-wide key.
	AllowEmptyCredential bool

	Events *Broadcaster
	Logger *slog.Logger
}

// Engine is the single state holder for apps, the conversation registry and
// the message timeline. It is safe for concurrent use; at most one send runs
// at a time.
type Engine struct {
	store    store.Store
	backends map[store.Kind]Backend
	allowKey bool

	registry *Registry
	timeline *Timeline
	events   *Broadcaster

	mu        sync.RWMutex
	activeApp *store.App
	state     SendState

	sending atomic.Bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewEngine creates an engine. Call Restore to load persisted selection.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := opts.Events
	if events == nil {
		events = NewBroadcaster(logger)
	}
	backends := make(map[store.Kind]Backend, len(opts.Backends))
	for k, b := range opts.Backends {
		backends[k] = b
	}

	return &Engine{
		store:    opts.Store,
		backends: backends,
		allowKey: opts.AllowEmptyCredential,
		registry: NewRegistry(),
		timeline: NewTimeline(events),
		events:   events,
		state:    StateIdle,
		logger:   logger.With("component", "engine"),
	}
}

// Events returns the broadcaster timeline and list changes are published on.
func (e *Engine) Events() *Broadcaster {
	return e.events
}

// Wait blocks until running sends and title generation have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Restore reactivates the persisted app and conversation selection.
func (e *Engine) Restore(ctx context.Context) error {
	appID, err := e.store.GetSetting(ctx, store.SettingActiveApp)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading active app: %w", err)
	}
	convID, err := e.store.GetSetting(ctx, store.SettingActiveConversation)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("reading active conversation: %w", err)
	}

	if err := e.SetActiveApp(ctx, appID); err != nil {
		if errors.Is(err, ErrUnknownApp) {
			e.logger.Warn("persisted active app no longer exists", "app_id", appID)
			return e.store.SetSetting(ctx, store.SettingActiveApp, "")
		}
		// A failed re-list leaves the app active; keep going.
		e.logger.Warn("restoring conversation list failed", "error", err)
	}

	if convID != "" {
		if err := e.SelectConversation(ctx, convID); err != nil {
			e.logger.Warn("restoring conversation failed", "conversation_id", convID, "error", err)
		}
	}
	return nil
}

// --- Apps ---

// ListApps returns the configured apps in creation order.
func (e *Engine) ListApps(ctx context.Context) ([]*store.App, error) {
	return e.store.ListApps(ctx)
}

// ActiveApp returns a copy of the active app, or nil.
func (e *Engine) ActiveApp() *store.App {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.activeApp == nil {
		return nil
	}
	a := *e.activeApp
	return &a
}

// AddApp validates and stores app, filling in ID, icon and creation time when
// unset. The first app added while nothing is active becomes active.
func (e *Engine) AddApp(ctx context.Context, app *store.App) error {
	app.Name = strings.TrimSpace(app.Name)
	if app.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidApp)
	}
	if !app.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidApp, app.Kind)
	}
	if _, ok := e.backends[app.Kind]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, app.Kind)
	}
	if app.Credential == "" && (app.Kind == store.KindHosted || !e.allowKey) {
		return fmt.Errorf("%w: credential is required", ErrInvalidApp)
	}
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.Icon == "" {
		app.Icon = store.DefaultIcon
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now()
	}

	if err := e.store.CreateApp(ctx, app); err != nil {
		return err
	}
	e.logger.Info("app added", "app_id", app.ID, "kind", app.Kind)

	if e.ActiveApp() == nil {
		if err := e.SetActiveApp(ctx, app.ID); err != nil {
			e.logger.Warn("activating new app failed", "app_id", app.ID, "error", err)
		}
	}
	return nil
}

// RemoveApp deletes an app. Removing the active app clears the selection.
// With purge, the app's local conversations are deleted too.
func (e *Engine) RemoveApp(ctx context.Context, id string, purge bool) error {
	if err := e.store.DeleteApp(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownApp
		}
		return fmt.Errorf("removing app: %w", err)
	}

	if purge {
		n, err := e.store.DeleteConversationsByApp(ctx, id)
		if err != nil {
			return fmt.Errorf("purging conversations: %w", err)
		}
		e.logger.Info("purged local conversations", "app_id", id, "count", n)
	}

	e.mu.Lock()
	wasActive := e.activeApp != nil && e.activeApp.ID == id
	if wasActive {
		e.activeApp = nil
	}
	e.mu.Unlock()

	if wasActive {
		e.registry.Reset("")
		e.timeline.Clear()
		e.persistSelection(ctx, "", "")
		e.publishConversations()
	}

	e.logger.Info("app removed", "app_id", id, "was_active", wasActive)
	return nil
}

// SetActiveApp switches the backend-of-record. Selection and timeline are
// cleared and the new app's conversations are listed.
func (e *Engine) SetActiveApp(ctx context.Context, id string) error {
	app, err := e.store.GetApp(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownApp
	}
	if err != nil {
		return fmt.Errorf("loading app: %w", err)
	}

	e.mu.Lock()
	e.activeApp = app
	e.mu.Unlock()

	e.registry.Reset(app.ID)
	e.timeline.Clear()
	e.persistSelection(ctx, app.ID, "")
	e.publishConversations()

	e.logger.Debug("active app changed", "app_id", app.ID)
	return e.RefreshConversations(ctx)
}

// --- Conversations ---

// Conversations returns the active app's conversation list.
func (e *Engine) Conversations() []*store.Conversation {
	return e.registry.List()
}

// ActiveConversationID returns the selected conversation, or "".
func (e *Engine) ActiveConversationID() string {
	return e.registry.Active()
}

// Messages returns the timeline.
func (e *Engine) Messages() []*store.Message {
	return e.timeline.Messages()
}

// Sending reports whether a send is in flight.
func (e *Engine) Sending() bool {
	return e.sending.Load()
}

// State returns the phase of the current or most recent send.
func (e *Engine) State() SendState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// RefreshConversations re-lists the active app's conversations. On failure
// the previous list is kept.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	app, b, err := e.activeBackend()
	if err != nil {
		return err
	}

	convs, err := b.ListConversations(ctx, app)
	if err != nil {
		e.logger.Error("failed to list conversations", "app_id", app.ID, "error", err)
		return fmt.Errorf("listing conversations: %w", err)
	}
	if e.registry.Replace(app.ID, convs) {
		e.publishConversations()
	}
	return nil
}

// SelectConversation makes id active and loads its messages. An empty id
// deselects and clears the timeline without deleting anything.
func (e *Engine) SelectConversation(ctx context.Context, id string) error {
	if id == "" {
		e.registry.Select("")
		e.timeline.Clear()
		e.persistSelection(ctx, e.activeAppID(), "")
		e.publishConversations()
		return nil
	}

	app, b, err := e.activeBackend()
	if err != nil {
		return err
	}
	conv := e.conversationFor(app, id)

	e.registry.Select(id)
	e.timeline.Load(id, nil)
	e.persistSelection(ctx, app.ID, id)
	e.publishConversations()

	msgs, err := b.LoadMessages(ctx, app, conv)
	if err != nil {
		e.logger.Error("failed to load messages", "conversation_id", id, "error", err)
		return fmt.Errorf("loading messages: %w", err)
	}

	// A later selection wins over this load.
	if e.registry.Active() != id {
		return nil
	}
	e.timeline.Load(id, msgs)
	return nil
}

// DeleteConversation deletes id through the active app's backend. On
// failure nothing changes locally.
func (e *Engine) DeleteConversation(ctx context.Context, id string) error {
	app, b, err := e.activeBackend()
	if err != nil {
		return err
	}
	conv := e.conversationFor(app, id)

	if err := b.DeleteConversation(ctx, app, conv); err != nil {
		e.logger.Error("failed to delete conversation", "conversation_id", id, "error", err)
		return fmt.Errorf("deleting conversation: %w", err)
	}

	if e.registry.Remove(id) {
		e.timeline.Clear()
		e.persistSelection(ctx, app.ID, "")
	}
	e.publishConversations()
	e.logger.Info("conversation deleted", "conversation_id", id)

	if err := e.RefreshConversations(ctx); err != nil {
		e.logger.Warn("re-list after delete failed", "error", err)
	}
	return nil
}

// RenameConversation sets a conversation's title. Hosted renames must
// succeed remotely before the local title changes.
func (e *Engine) RenameConversation(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	app, b, err := e.activeBackend()
	if err != nil {
		return err
	}
	conv := e.conversationFor(app, id)

	if err := b.RenameConversation(ctx, app, conv, title); err != nil {
		e.logger.Error("failed to rename conversation", "conversation_id", id, "error", err)
		return fmt.Errorf("renaming conversation: %w", err)
	}
	e.registry.Rename(id, title)
	e.publishConversations()
	return nil
}

// --- Send ---

// PendingSend is a send that has been accepted and is running.
type PendingSend struct {
	UserMessageID      string
	AssistantMessageID string

	done   chan struct{}
	result *SendResult
	err    error
}

// Done is closed once the send has settled or failed.
func (p *PendingSend) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the send finishes. A failed send returns both a result
// and the cause.
func (p *PendingSend) Wait() (*SendResult, error) {
	<-p.done
	return p.result, p.err
}

// Send runs the send protocol for content and returns once the answer has
// settled or failed. Rejected sends (blank input, no active app, another
// send in flight) return an error and change nothing.
func (e *Engine) Send(ctx context.Context, content string) (*SendResult, error) {
	p, err := e.Start(ctx, content)
	if err != nil {
		return nil, err
	}
	return p.Wait()
}

// Start accepts a send and runs it on a new goroutine. Rejections are
// returned synchronously. The user message and assistant placeholder are on
// the timeline by the time Start returns.
func (e *Engine) Start(ctx context.Context, content string) (*PendingSend, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}
	app, b, err := e.activeBackend()
	if err != nil {
		return nil, err
	}
	if !e.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInProgress
	}

	now := time.Now()
	t := &Turn{
		App:          app,
		Conversation: e.selectedConversation(app),
		History:      e.timeline.Messages(),
		User: &store.Message{
			ID:        uuid.New().String(),
			Role:      store.RoleUser,
			Content:   content,
			CreatedAt: now,
		},
		Assistant: &store.Message{
			ID:        uuid.New().String(),
			Role:      store.RoleAssistant,
			CreatedAt: now,
		},
	}
	p := &PendingSend{
		UserMessageID:      t.User.ID,
		AssistantMessageID: t.Assistant.ID,
		done:               make(chan struct{}),
	}

	e.setState(StateDispatching)
	e.timeline.Append(t.User)
	e.timeline.Append(t.Assistant)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		result, err := e.run(ctx, b, t)
		e.sending.Store(false)
		p.result, p.err = result, err
		close(p.done)
	}()
	return p, nil
}

// run drives an accepted turn from dispatch to settled or failed.
func (e *Engine) run(ctx context.Context, b Backend, t *Turn) (*SendResult, error) {
	app := t.App
	result := &SendResult{
		UserMessageID:      t.User.ID,
		AssistantMessageID: t.Assistant.ID,
	}

	created, err := b.BeginTurn(ctx, t)
	if created != nil {
		e.adopt(ctx, app.ID, created)
	}
	if err != nil {
		return e.fail(ctx, b, t, result, err)
	}

	stream, err := b.Dispatch(ctx, t)
	if err != nil {
		return e.fail(ctx, b, t, result, err)
	}
	defer stream.Close()

	e.setState(StateStreaming)
	for {
		_, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return e.fail(ctx, b, t, result, err)
		}
		e.timeline.UpdateContent(t.Assistant.ID, stream.Answer())
	}
	t.Assistant.Content = stream.Answer()

	outcome, err := b.FinishTurn(e.persistContext(ctx), t, stream.ConversationRef())
	if err != nil {
		return e.fail(ctx, b, t, result, err)
	}

	// The conversation may have been reloaded from the store while the
	// answer was streaming; make sure it shows the final text.
	if e.timeline.ConversationID() == t.ConversationID() {
		e.timeline.UpdateContent(t.Assistant.ID, t.Assistant.Content)
	}

	if outcome.Adopt != "" {
		e.adoptRemote(ctx, app, outcome.Adopt)
	}
	if outcome.Title != nil {
		e.runTitle(ctx, t.ConversationID(), outcome.Title)
	}

	result.State = StateSettled
	result.ConversationID = t.ConversationID()
	if result.ConversationID == "" {
		result.ConversationID = outcome.Adopt
	}
	result.Answer = t.Assistant.Content
	e.setState(StateSettled)

	e.logger.Debug("send settled",
		"app_id", app.ID,
		"conversation_id", result.ConversationID,
		"answer_len", len(result.Answer))
	return result, nil
}

// fail converts any send error into the fixed error reply.
func (e *Engine) fail(ctx context.Context, b Backend, t *Turn, result *SendResult, cause error) (*SendResult, error) {
	e.logger.Error("send failed", "app_id", t.App.ID, "conversation_id", t.ConversationID(), "error", cause)

	t.Assistant.Content = ErrorContent
	e.timeline.UpdateContent(t.Assistant.ID, ErrorContent)

	if err := b.FailTurn(e.persistContext(ctx), t); err != nil {
		e.logger.Error("failed to persist error reply", "conversation_id", t.ConversationID(), "error", err)
	}

	result.State = StateFailed
	result.ConversationID = t.ConversationID()
	result.Answer = ErrorContent
	result.Err = cause
	e.setState(StateFailed)
	return result, fmt.Errorf("sending message: %w", cause)
}

// adopt selects a conversation a backend just created for the active app.
func (e *Engine) adopt(ctx context.Context, appID string, conv *store.Conversation) {
	e.registry.Prepend(conv)
	if e.registry.SelectIfNone(appID, conv.ID) {
		e.timeline.Attach(conv.ID)
		e.persistSelection(ctx, appID, conv.ID)
	}
	e.publishConversations()
}

// adoptRemote selects a server-assigned conversation and re-lists so it
// shows with its server title. Skipped if the user has moved on.
func (e *Engine) adoptRemote(ctx context.Context, app *store.App, ref string) {
	if !e.registry.SelectIfNone(app.ID, ref) {
		return
	}
	e.timeline.Attach(ref)
	e.persistSelection(ctx, app.ID, ref)
	e.registry.Prepend(&store.Conversation{
		ID:        ref,
		AppID:     app.ID,
		Title:     store.DefaultTitle,
		CreatedAt: time.Now(),
		RemoteID:  ref,
	})
	e.publishConversations()

	if err := e.RefreshConversations(ctx); err != nil {
		e.logger.Warn("re-list after new conversation failed", "error", err)
	}
}

// runTitle runs title generation in the background and mirrors the result
// into the registry.
func (e *Engine) runTitle(ctx context.Context, convID string, job func(context.Context) (string, error)) {
	bg := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		title, err := job(bg)
		if err != nil {
			e.logger.Warn("title generation failed", "conversation_id", convID, "error", err)
			return
		}
		if title == "" {
			return
		}
		e.registry.Rename(convID, title)
		e.publishConversations()
		e.logger.Debug("conversation titled", "conversation_id", convID, "title", title)
	}()
}

// --- helpers ---

func (e *Engine) activeBackend() (*store.App, Backend, error) {
	app := e.ActiveApp()
	if app == nil {
		return nil, nil, ErrNoActiveApp
	}
	b, ok := e.backends[app.Kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, app.Kind)
	}
	return app, b, nil
}

func (e *Engine) activeAppID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.activeApp == nil {
		return ""
	}
	return e.activeApp.ID
}

func (e *Engine) selectedConversation(app *store.App) *store.Conversation {
	id := e.registry.Active()
	if id == "" {
		return nil
	}
	return e.conversationFor(app, id)
}

// conversationFor returns the listed conversation with id, or a stand-in
// for one that has not been listed yet.
func (e *Engine) conversationFor(app *store.App, id string) *store.Conversation {
	if conv, ok := e.registry.Get(id); ok {
		return conv
	}
	return &store.Conversation{
		ID:       id,
		AppID:    app.ID,
		Title:    store.DefaultTitle,
		RemoteID: id,
	}
}

func (e *Engine) setState(s SendState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.events.Publish(&Event{Type: EventState, State: s})
}

func (e *Engine) publishConversations() {
	e.events.Publish(&Event{Type: EventConversations, ConversationID: e.registry.Active()})
}

// persistContext detaches store writes from the caller so a dropped client
// does not lose the final answer.
func (e *Engine) persistContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (e *Engine) persistSelection(ctx context.Context, appID, convID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := e.store.SetSetting(ctx, store.SettingActiveApp, appID); err != nil {
		e.logger.Warn("failed to persist active app", "error", err)
	}
	if err := e.store.SetSetting(ctx, store.SettingActiveConversation, convID); err != nil {
		e.logger.Warn("failed to persist active conversation", "error", err)
	}
}
