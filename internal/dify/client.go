// ABOUTME: HTTP client for Dify-style hosted chat applications
// ABOUTME: Implements backend.HostedAdapter over the chat-messages and conversations REST API

package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/parley/internal/backend"
)

const (
	// DefaultBaseURL is the public Dify API root.
	DefaultBaseURL = "https://api.dify.ai/v1"

	// DefaultTimeout bounds non-streaming calls. Streams are bounded only by their context.
	DefaultTimeout = 30 * time.Second

	listLimit = 100
)

// APIError is a non-2xx response from the hosted backend.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dify: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("dify: %d: %s", e.StatusCode, e.Message)
}

// Client talks to a single Dify API root. Each App supplies its own credential per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

var _ backend.HostedAdapter = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. The client's own Timeout must be zero
// or streams will be cut off mid-answer.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the deadline applied to non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With("component", "dify")
		}
	}
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     slog.Default().With("component", "dify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage opens a streaming chat-messages exchange. An empty
// conversationRef asks the server to start a new conversation.
func (c *Client) SendMessage(ctx context.Context, credential, query, user, conversationRef string) (backend.Stream, error) {
	body := map[string]any{
		"inputs":          map[string]any{},
		"query":           query,
		"response_mode":   "streaming",
		"conversation_id": conversationRef,
		"user":            user,
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chat-messages", credential, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending chat message: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	c.logger.Debug("chat stream opened", "conversation_id", conversationRef)
	return newStream(resp.Body, conversationRef, c.logger), nil
}

// ListConversations returns the user's conversations, newest first.
func (c *Client) ListConversations(ctx context.Context, credential, user string) ([]backend.RemoteConversation, error) {
	q := url.Values{}
	q.Set("user", user)
	q.Set("limit", fmt.Sprint(listLimit))

	raw, err := c.getJSON(ctx, "/conversations?"+q.Encode(), credential)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	var convs []backend.RemoteConversation
	gjson.GetBytes(raw, "data").ForEach(func(_, v gjson.Result) bool {
		convs = append(convs, backend.RemoteConversation{
			ID:        v.Get("id").String(),
			Name:      v.Get("name").String(),
			CreatedAt: time.Unix(v.Get("created_at").Int(), 0),
		})
		return true
	})
	return convs, nil
}

// ListMessages returns the stored query/answer exchanges of a conversation in server order.
func (c *Client) ListMessages(ctx context.Context, credential, conversationRef, user string) ([]backend.RemoteMessage, error) {
	q := url.Values{}
	q.Set("conversation_id", conversationRef)
	q.Set("user", user)
	q.Set("limit", fmt.Sprint(listLimit))

	raw, err := c.getJSON(ctx, "/messages?"+q.Encode(), credential)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	var msgs []backend.RemoteMessage
	gjson.GetBytes(raw, "data").ForEach(func(_, v gjson.Result) bool {
		msgs = append(msgs, backend.RemoteMessage{
			ID:        v.Get("id").String(),
			Query:     v.Get("query").String(),
			Answer:    v.Get("answer").String(),
			CreatedAt: time.Unix(v.Get("created_at").Int(), 0),
		})
		return true
	})
	return msgs, nil
}

// DeleteConversation removes a conversation on the server.
func (c *Client) DeleteConversation(ctx context.Context, credential, conversationRef, user string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := "/conversations/" + url.PathEscape(conversationRef)
	req, err := c.newRequest(ctx, http.MethodDelete, path, credential, map[string]any{"user": user})
	if err != nil {
		return err
	}
	if err := c.doDiscard(req); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", conversationRef, err)
	}
	return nil
}

// RenameConversation sets a conversation's name on the server.
func (c *Client) RenameConversation(ctx context.Context, credential, conversationRef, name, user string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := "/conversations/" + url.PathEscape(conversationRef) + "/name"
	body := map[string]any{
		"name":          name,
		"auto_generate": false,
		"user":          user,
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, credential, body)
	if err != nil {
		return err
	}
	if err := c.doDiscard(req); err != nil {
		return fmt.Errorf("renaming conversation %s: %w", conversationRef, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path, credential string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path, credential string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, credential, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, readAPIError(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid JSON response")
	}
	return raw, nil
}

func (c *Client) doDiscard(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return readAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// readAPIError builds an APIError from a failed response, preferring the
// server's JSON message over the bare status text.
func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	if gjson.ValidBytes(raw) {
		if msg := gjson.GetBytes(raw, "message").String(); msg != "" {
			apiErr.Message = msg
		}
		apiErr.Code = gjson.GetBytes(raw, "code").String()
	} else if s := strings.TrimSpace(string(raw)); s != "" {
		apiErr.Message = s
	}
	return apiErr
}
