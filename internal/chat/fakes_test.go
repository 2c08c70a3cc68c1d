// ABOUTME: Hand-written fakes of the backend contracts for engine tests
// ABOUTME: Streams are scripted chunk lists with optional gates and terminal errors

package chat

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/backend"
	"github.com/2389/parley/internal/store"
)

// fakeStream replays chunks, then err (io.EOF when nil).
type fakeStream struct {
	chunks []string
	err    error
	ref    string

	// gate, when set, blocks the first Recv until closed.
	gate <-chan struct{}
	// onEOF, when set, runs once before the first io.EOF is returned.
	onEOF func()

	i      int
	answer strings.Builder
	closed atomic.Bool
}

func newFakeStream(chunks ...string) *fakeStream {
	return &fakeStream{chunks: chunks}
}

func (s *fakeStream) Recv() (string, error) {
	if s.gate != nil {
		<-s.gate
		s.gate = nil
	}
	if s.i < len(s.chunks) {
		c := s.chunks[s.i]
		s.i++
		s.answer.WriteString(c)
		return c, nil
	}
	if s.err != nil {
		return "", s.err
	}
	if s.onEOF != nil {
		hook := s.onEOF
		s.onEOF = nil
		hook()
	}
	return "", io.EOF
}

func (s *fakeStream) ConversationRef() string { return s.ref }
func (s *fakeStream) Answer() string          { return s.answer.String() }
func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type sentQuery struct {
	credential string
	query      string
	user       string
	ref        string
}

// fakeHosted is an in-memory hosted service.
type fakeHosted struct {
	mu       sync.Mutex
	convs    []backend.RemoteConversation
	messages map[string][]backend.RemoteMessage

	// next is returned by SendMessage; newRef is assigned to fresh conversations.
	next   *fakeStream
	newRef string

	sendErr   error
	listErr   error
	deleteErr error
	renameErr error

	sent    []sentQuery
	deleted []string
	listed  int
}

func newFakeHosted() *fakeHosted {
	return &fakeHosted{messages: make(map[string][]backend.RemoteMessage)}
}

func (f *fakeHosted) SendMessage(ctx context.Context, credential, query, user, ref string) (backend.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentQuery{credential, query, user, ref})
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	s := f.next
	if s == nil {
		s = newFakeStream("ok")
	}
	f.next = nil
	if ref == "" && f.newRef != "" {
		s.ref = f.newRef
		f.convs = append([]backend.RemoteConversation{{ID: f.newRef, Name: "Server Title"}}, f.convs...)
	} else {
		s.ref = ref
	}
	return s, nil
}

func (f *fakeHosted) ListConversations(ctx context.Context, credential, user string) ([]backend.RemoteConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]backend.RemoteConversation, len(f.convs))
	copy(out, f.convs)
	return out, nil
}

func (f *fakeHosted) ListMessages(ctx context.Context, credential, ref, user string) ([]backend.RemoteMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[ref], nil
}

func (f *fakeHosted) DeleteConversation(ctx context.Context, credential, ref, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, ref)
	out := f.convs[:0]
	for _, c := range f.convs {
		if c.ID != ref {
			out = append(out, c)
		}
	}
	f.convs = out
	return nil
}

func (f *fakeHosted) RenameConversation(ctx context.Context, credential, ref, name, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renameErr != nil {
		return f.renameErr
	}
	for i := range f.convs {
		if f.convs[i].ID == ref {
			f.convs[i].Name = name
		}
	}
	return nil
}

// fakeCompletions scripts direct-model answers.
type fakeCompletions struct {
	mu       sync.Mutex
	requests []backend.CompletionRequest
	next     *fakeStream
	err      error

	// onStream runs before the stream is returned, while the send is dispatching.
	onStream func(req backend.CompletionRequest)
}

func (f *fakeCompletions) StreamChat(ctx context.Context, req backend.CompletionRequest) (backend.Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hook := f.onStream
	s := f.next
	f.next = nil
	err := f.err
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = newFakeStream("ok")
	}
	return s, nil
}

func (f *fakeCompletions) lastRequest() backend.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeTitles counts calls and returns a fixed title.
type fakeTitles struct {
	title string
	calls atomic.Int32
}

func (f *fakeTitles) GenerateTitle(ctx context.Context, credential, model, userMessage, assistantMessage string) string {
	f.calls.Add(1)
	return f.title
}

type testRig struct {
	engine      *Engine
	store       *store.MockStore
	hosted      *fakeHosted
	completions *fakeCompletions
	titles      *fakeTitles
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	r := &testRig{
		store:       store.NewMockStore(),
		hosted:      newFakeHosted(),
		completions: &fakeCompletions{},
		titles:      &fakeTitles{title: `"Trip Planning"`},
	}
	r.engine = NewEngine(Options{
		Store: r.store,
		Backends: map[store.Kind]Backend{
			store.KindHosted:      NewHostedBackend(r.hosted, ""),
			store.KindDirectModel: NewLocalBackend(r.store, r.completions, r.titles),
		},
		AllowEmptyCredential: true,
	})
	t.Cleanup(r.engine.Wait)
	return r
}

func hostedApp() *store.App {
	return &store.App{ID: "dify", Name: "Support", Kind: store.KindHosted, Credential: "app-key"}
}

func modelApp() *store.App {
	return &store.App{ID: "gpt", Name: "GPT", Kind: store.KindDirectModel, Credential: "sk-test", Model: "gpt-4o", SystemPrompt: "Be kind."}
}

func (r *testRig) activate(t *testing.T, app *store.App) {
	t.Helper()
	ctx := context.Background()
	err := r.engine.AddApp(ctx, app)
	require.NoError(t, err)
	require.NoError(t, r.engine.SetActiveApp(ctx, app.ID))
}
