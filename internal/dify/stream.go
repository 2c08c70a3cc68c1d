// ABOUTME: Server-sent event reader for streaming chat-messages responses
// ABOUTME: Folds message and agent_message events into answer chunks, skipping malformed lines

package dify

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/2389/parley/internal/backend"
)

// Stream event names the reader reacts to. Everything else
// (workflow and node progress, files, tts) is ignored.
const (
	eventMessage      = "message"
	eventAgentMessage = "agent_message"
	eventMessageEnd   = "message_end"
	eventError        = "error"
)

// stream implements backend.Stream over a chat-messages SSE body.
type stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	logger *slog.Logger

	conversationRef string
	answer          strings.Builder
	err             error // terminal; io.EOF on normal completion

	closeOnce sync.Once
}

var _ backend.Stream = (*stream)(nil)

func newStream(body io.ReadCloser, conversationRef string, logger *slog.Logger) *stream {
	return &stream{
		body:            body,
		reader:          bufio.NewReaderSize(body, 64*1024),
		logger:          logger,
		conversationRef: conversationRef,
	}
}

// Recv returns the next non-empty answer chunk.
func (s *stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	for {
		line, readErr := s.reader.ReadString('\n')
		if line != "" {
			chunk, done, err := s.handleLine(line)
			if err != nil {
				s.err = err
				return "", err
			}
			if done {
				s.err = io.EOF
				return "", io.EOF
			}
			if chunk != "" {
				return chunk, nil
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				s.err = io.EOF
			} else {
				s.err = fmt.Errorf("reading stream: %w", readErr)
			}
			return "", s.err
		}
	}
}

// handleLine processes one SSE line. It returns the answer chunk carried by
// the line (possibly empty), whether the stream has ended, or an inline error.
func (s *stream) handleLine(line string) (string, bool, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" || data == "[DONE]" {
		return "", false, nil
	}

	if !gjson.Valid(data) {
		s.logger.Warn("skipping malformed stream chunk", "data", truncate(data, 200))
		return "", false, nil
	}

	parsed := gjson.Parse(data)
	s.noteConversation(parsed.Get("conversation_id").String())

	switch parsed.Get("event").String() {
	case eventMessage, eventAgentMessage:
		chunk := parsed.Get("answer").String()
		s.answer.WriteString(chunk)
		return chunk, false, nil
	case eventMessageEnd:
		return "", true, nil
	case eventError:
		return "", false, &APIError{
			StatusCode: int(parsed.Get("status").Int()),
			Code:       parsed.Get("code").String(),
			Message:    parsed.Get("message").String(),
		}
	default:
		return "", false, nil
	}
}

func (s *stream) noteConversation(id string) {
	if s.conversationRef == "" && id != "" {
		s.conversationRef = id
	}
}

// ConversationRef is the conversation the server assigned, or the one the
// exchange was sent to.
func (s *stream) ConversationRef() string {
	return s.conversationRef
}

// Answer is the text received so far.
func (s *stream) Answer() string {
	return s.answer.String()
}

// Close releases the response body.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
