// ABOUTME: OpenAI-compatible chat completion client for direct-model apps
// ABOUTME: Implements backend.CompletionAdapter and backend.TitleGenerator using go-openai

package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/parley/internal/backend"
	"github.com/2389/parley/internal/store"
)

// DefaultModel is used when an app does not name one.
const DefaultModel = "gpt-3.5-turbo"

// ErrNoCredential is returned when neither the app nor the server has an API key.
var ErrNoCredential = errors.New("no API key configured")

const titleSystemPrompt = `You are a conversation title generator.
Generate a concise, engaging title (max 5 words) for the following conversation.
Do not use quotes. Return ONLY the title text.`

// Config configures a Client.
type Config struct {
	// BaseURL overrides the OpenAI API root (for compatible gateways).
	BaseURL string
	// APIKey is used when an app has no credential of its own.
	APIKey string
	// DefaultModel replaces DefaultModel when set.
	DefaultModel string
	// TitleModel, when set, is used for title generation instead of the app's model.
	TitleModel string
	// TitleTimeout bounds a title generation call.
	TitleTimeout time.Duration
	// HTTPClient replaces the transport.
	HTTPClient *http.Client
}

// Client streams chat completions and names conversations.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

var (
	_ backend.CompletionAdapter = (*Client)(nil)
	_ backend.TitleGenerator    = (*Client)(nil)
)

// NewClient creates a model client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.TitleTimeout == 0 {
		cfg.TitleTimeout = 20 * time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "model"),
	}
}

// HasDefaultKey reports whether apps may omit their own credential.
func (c *Client) HasDefaultKey() bool {
	return c.cfg.APIKey != ""
}

func (c *Client) openaiClient(credential string) (*openai.Client, error) {
	key := credential
	if key == "" {
		key = c.cfg.APIKey
	}
	if key == "" {
		return nil, ErrNoCredential
	}

	config := openai.DefaultConfig(key)
	if c.cfg.BaseURL != "" {
		config.BaseURL = c.cfg.BaseURL
	}
	if c.cfg.HTTPClient != nil {
		config.HTTPClient = c.cfg.HTTPClient
	}
	return openai.NewClientWithConfig(config), nil
}

func (c *Client) modelOrDefault(name string) string {
	if name == "" {
		return c.cfg.DefaultModel
	}
	return name
}

// StreamChat opens a streaming completion. The system prompt, when present,
// is sent ahead of the history.
func (c *Client) StreamChat(ctx context.Context, req backend.CompletionRequest) (backend.Stream, error) {
	client, err := c.openaiClient(req.Credential)
	if err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	modelName := c.modelOrDefault(req.Model)
	s, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening completion stream: %w", err)
	}

	c.logger.Debug("completion stream opened", "model", modelName, "history", len(req.Messages))
	return &stream{s: s}, nil
}

// GenerateTitle asks the model for a short title for the first exchange.
// Any failure yields store.DefaultTitle.
func (c *Client) GenerateTitle(ctx context.Context, credential, modelName, userMessage, assistantMessage string) string {
	client, err := c.openaiClient(credential)
	if err != nil {
		c.logger.Warn("skipping title generation", "error", err)
		return store.DefaultTitle
	}

	if c.cfg.TitleModel != "" {
		modelName = c.cfg.TitleModel
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TitleTimeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.modelOrDefault(modelName),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
			{Role: openai.ChatMessageRoleAssistant, Content: assistantMessage},
		},
	})
	if err != nil {
		c.logger.Warn("failed to generate title", "error", err)
		return store.DefaultTitle
	}
	if len(resp.Choices) == 0 {
		return store.DefaultTitle
	}

	return backend.CleanTitle(resp.Choices[0].Message.Content)
}

// stream adapts a go-openai completion stream to backend.Stream.
type stream struct {
	s      *openai.ChatCompletionStream
	answer strings.Builder
	err    error
	closed bool
}

// Recv returns the next non-empty content delta.
func (st *stream) Recv() (string, error) {
	if st.err != nil {
		return "", st.err
	}
	for {
		resp, err := st.s.Recv()
		if errors.Is(err, io.EOF) {
			st.err = io.EOF
			return "", io.EOF
		}
		if err != nil {
			st.err = fmt.Errorf("receiving completion: %w", err)
			return "", st.err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		st.answer.WriteString(delta)
		return delta, nil
	}
}

// ConversationRef is always empty; completion APIs are stateless.
func (st *stream) ConversationRef() string { return "" }

// Answer is the text received so far.
func (st *stream) Answer() string { return st.answer.String() }

// Close releases the HTTP response.
func (st *stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	st.s.Close()
	return nil
}
