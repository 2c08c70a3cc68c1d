// ABOUTME: Tests for the model client against a fake OpenAI-compatible server
// ABOUTME: Covers streaming deltas, credential fallback, title cleanup and failure fallbacks

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/backend"
	"github.com/2389/parley/internal/store"
)

type fakeOpenAI struct {
	mu       sync.Mutex
	requests []map[string]any
	auth     []string

	deltas []string
	title  string
	status int
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		raw, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(raw, &req))

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()

		if f.status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}

		if stream, _ := req["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, d := range f.deltas {
				chunk, _ := json.Marshal(map[string]any{
					"id":      "chunk",
					"object":  "chat.completion.chunk",
					"created": 1,
					"model":   req["model"],
					"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": d}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", chunk)
				w.(http.Flusher).Flush()
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		resp, _ := json.Marshal(map[string]any{
			"id":      "cmpl",
			"object":  "chat.completion",
			"created": 1,
			"model":   req["model"],
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.title},
				"finish_reason": "stop",
			}},
		})
		w.Write(resp)
	})
}

func newTestClient(t *testing.T, f *fakeOpenAI, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/v1"
	return NewClient(cfg, nil)
}

func TestStreamChat(t *testing.T) {
	f := &fakeOpenAI{deltas: []string{"Hel", "", "lo"}}
	c := newTestClient(t, f, Config{})

	s, err := c.StreamChat(context.Background(), backend.CompletionRequest{
		Credential:   "sk-app",
		Model:        "gpt-4o-mini",
		SystemPrompt: "Be brief.",
		Messages: []backend.ChatMessage{
			{Role: "user", Content: "earlier"},
			{Role: "assistant", Content: "reply"},
			{Role: "user", Content: "now"},
		},
	})
	require.NoError(t, err)
	defer s.Close()

	var chunks []string
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Hello", s.Answer())
	assert.Empty(t, s.ConversationRef())

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, "gpt-4o-mini", req["model"])
	assert.Equal(t, "Bearer sk-app", f.auth[0])

	msgs := req["messages"].([]any)
	require.Len(t, msgs, 4)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "Be brief.", first["content"])
	last := msgs[3].(map[string]any)
	assert.Equal(t, "now", last["content"])
}

func TestStreamChat_DefaultModelAndServerKey(t *testing.T) {
	f := &fakeOpenAI{deltas: []string{"ok"}}
	c := newTestClient(t, f, Config{APIKey: "sk-server"})
	assert.True(t, c.HasDefaultKey())

	s, err := c.StreamChat(context.Background(), backend.CompletionRequest{
		Messages: []backend.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer s.Close()
	for {
		if _, err := s.Recv(); err != nil {
			break
		}
	}

	assert.Equal(t, DefaultModel, f.requests[0]["model"])
	assert.Equal(t, "Bearer sk-server", f.auth[0])
	msgs := f.requests[0]["messages"].([]any)
	assert.Len(t, msgs, 1, "no system message when the prompt is empty")
}

func TestStreamChat_NoCredential(t *testing.T) {
	c := NewClient(Config{}, nil)
	_, err := c.StreamChat(context.Background(), backend.CompletionRequest{})
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestStreamChat_ServerError(t *testing.T) {
	f := &fakeOpenAI{status: http.StatusInternalServerError}
	c := newTestClient(t, f, Config{APIKey: "k"})

	s, err := c.StreamChat(context.Background(), backend.CompletionRequest{
		Messages: []backend.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		defer s.Close()
		_, err = s.Recv()
	}
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestGenerateTitle(t *testing.T) {
	f := &fakeOpenAI{title: "  \"Weekend Trip Ideas\"\n"}
	c := newTestClient(t, f, Config{APIKey: "k"})

	title := c.GenerateTitle(context.Background(), "", "gpt-4o", "Where should I go?", "Try the coast.")
	assert.Equal(t, "Weekend Trip Ideas", title)

	req := f.requests[0]
	assert.Equal(t, "gpt-4o", req["model"])
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[0].(map[string]any)["content"], "max 5 words")
}

func TestGenerateTitle_TitleModelOverride(t *testing.T) {
	f := &fakeOpenAI{title: "Short"}
	c := newTestClient(t, f, Config{APIKey: "k", TitleModel: "gpt-4o-mini"})

	assert.Equal(t, "Short", c.GenerateTitle(context.Background(), "", "gpt-4o", "u", "a"))
	assert.Equal(t, "gpt-4o-mini", f.requests[0]["model"])
}

func TestGenerateTitle_FailuresFallBack(t *testing.T) {
	f := &fakeOpenAI{status: http.StatusBadGateway}
	c := newTestClient(t, f, Config{APIKey: "k"})
	assert.Equal(t, store.DefaultTitle, c.GenerateTitle(context.Background(), "", "m", "u", "a"))

	noKey := NewClient(Config{}, nil)
	assert.Equal(t, store.DefaultTitle, noKey.GenerateTitle(context.Background(), "", "m", "u", "a"))
}
