// ABOUTME: HTTP API handlers for apps, conversations, messages and streaming sends
// ABOUTME: POST /api/send and GET /api/events stream engine events as SSE

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/store"
)

// CreateAppRequest is the JSON request body for POST /api/apps.
type CreateAppRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Icon         string `json:"icon,omitempty"`
	Kind         string `json:"kind"`
	Credential   string `json:"credential,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// AppsResponse is the JSON response for GET /api/apps.
type AppsResponse struct {
	Apps        []*store.App `json:"apps"`
	ActiveAppID string       `json:"active_app_id,omitempty"`
}

// StateResponse is the JSON response for GET /api/state.
type StateResponse struct {
	ActiveApp            *store.App     `json:"active_app"`
	ActiveConversationID string         `json:"active_conversation_id,omitempty"`
	Sending              bool           `json:"sending"`
	State                chat.SendState `json:"state"`
}

// ConversationsResponse is the JSON response for conversation listings.
type ConversationsResponse struct {
	AppID                string                `json:"app_id"`
	ActiveConversationID string                `json:"active_conversation_id,omitempty"`
	Conversations        []*store.Conversation `json:"conversations"`
}

// RenameRequest is the JSON request body for PATCH /api/conversations/{id}.
type RenameRequest struct {
	Title string `json:"title"`
}

// MessageResponse is one timeline message, optionally rendered.
type MessageResponse struct {
	*store.Message
	HTML string `json:"html,omitempty"`
}

// MessagesResponse is the JSON response for GET /api/messages.
type MessagesResponse struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Messages       []MessageResponse `json:"messages"`
}

// SendMessageRequest is the JSON request body for POST /api/send.
type SendMessageRequest struct {
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// --- apps ---

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.engine.ListApps(r.Context())
	if err != nil {
		s.sendError(w, err)
		return
	}
	resp := AppsResponse{Apps: apps}
	if active := s.engine.ActiveApp(); active != nil {
		resp.ActiveAppID = active.ID
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var req CreateAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	app := &store.App{
		ID:           req.ID,
		Name:         req.Name,
		Icon:         req.Icon,
		Kind:         store.Kind(req.Kind),
		Credential:   req.Credential,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	}
	if err := s.engine.AddApp(r.Context(), app); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, app)
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))
	if err := s.engine.RemoveApp(r.Context(), r.PathValue("id"), purge); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateApp(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SetActiveApp(r.Context(), r.PathValue("id")); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.state())
}

// --- state and conversations ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.state())
}

func (s *Server) state() StateResponse {
	return StateResponse{
		ActiveApp:            s.engine.ActiveApp(),
		ActiveConversationID: s.engine.ActiveConversationID(),
		Sending:              s.engine.Sending(),
		State:                s.engine.State(),
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.engine.ActiveApp() == nil {
		s.sendError(w, chat.ErrNoActiveApp)
		return
	}
	s.sendJSON(w, http.StatusOK, s.conversations())
}

func (s *Server) handleRefreshConversations(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RefreshConversations(r.Context()); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.conversations())
}

func (s *Server) conversations() ConversationsResponse {
	resp := ConversationsResponse{
		ActiveConversationID: s.engine.ActiveConversationID(),
		Conversations:        s.engine.Conversations(),
	}
	if app := s.engine.ActiveApp(); app != nil {
		resp.AppID = app.ID
	}
	return resp
}

func (s *Server) handleSelectConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SelectConversation(r.Context(), r.PathValue("id")); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.messages(r))
}

func (s *Server) handleDeselectConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SelectConversation(r.Context(), ""); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.engine.RenameConversation(r.Context(), r.PathValue("id"), req.Title); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.conversations())
}

// --- messages ---

// handleMessages returns the timeline. With ?render=html each message also
// carries its content rendered from markdown.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.messages(r))
}

func (s *Server) messages(r *http.Request) MessagesResponse {
	render := r.URL.Query().Get("render") == "html"
	msgs := s.engine.Messages()

	resp := MessagesResponse{
		ConversationID: s.engine.ActiveConversationID(),
		Messages:       make([]MessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		mr := MessageResponse{Message: m}
		if render {
			html, err := s.markdown.Render(m.Content)
			if err != nil {
				s.logger.Error("failed to convert markdown", "message_id", m.ID, "error", err)
			}
			mr.HTML = html
		}
		resp.Messages = append(resp.Messages, mr)
	}
	return resp
}

// --- send ---

// handleSend handles POST /api/send.
//
//  1. Parse the body and claim the idempotency key, if any. A key seen
//     within its TTL answers with the first attempt's outcome.
//  2. Subscribe to engine events, then start the send. Rejections (blank
//     input, no active app, a send already in flight) are plain JSON errors
//     and release the key.
//  3. Stream "started", then "message", "update", "state" and
//     "conversations" events for this send, then "done".
//
// The send is detached from the request: a client that disconnects stops
// receiving events but the answer still settles and is persisted.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req, err := parseSendRequest(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var key string
	if req.IdempotencyKey != "" {
		key = dedupe.Key(req.IdempotencyKey)
		if prior, fresh := s.dedupe.Claim(key); !fresh {
			s.sendJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "outcome": prior})
			return
		}
	}

	events, subID := s.engine.Events().Subscribe(r.Context())
	defer s.engine.Events().Unsubscribe(subID)

	pending, err := s.engine.Start(context.WithoutCancel(r.Context()), req.Content)
	if err != nil {
		if key != "" {
			s.dedupe.Release(key)
		}
		s.sendError(w, err)
		return
	}
	complete := func() {
		if key != "" {
			res, _ := pending.Wait()
			s.dedupe.Complete(key, res.ConversationID, string(res.State))
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, "started", map[string]string{
		"user_message_id":      pending.UserMessageID,
		"assistant_message_id": pending.AssistantMessageID,
	})
	flusher.Flush()

	ours := func(ev *chat.Event) bool {
		switch ev.Type {
		case chat.EventAppend, chat.EventUpdate:
			return ev.Message != nil &&
				(ev.Message.ID == pending.UserMessageID || ev.Message.ID == pending.AssistantMessageID)
		case chat.EventState, chat.EventConversations:
			return true
		default:
			return false
		}
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("client disconnected during send", "assistant_message_id", pending.AssistantMessageID)
			go complete()
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ours(ev) {
				s.writeSSEEvent(w, string(ev.Type), ev)
				flusher.Flush()
			}

		case <-pending.Done():
			// Everything the send published is already buffered.
			for drained := false; !drained; {
				select {
				case ev, ok := <-events:
					if !ok {
						drained = true
					} else if ours(ev) {
						s.writeSSEEvent(w, string(ev.Type), ev)
					}
				default:
					drained = true
				}
			}

			complete()
			res, sendErr := pending.Wait()
			done := map[string]any{
				"state":           res.State,
				"conversation_id": res.ConversationID,
				"answer":          res.Answer,
			}
			if sendErr != nil {
				done["error"] = sendErr.Error()
			}
			s.writeSSEEvent(w, "done", done)
			flusher.Flush()
			return
		}
	}
}

// handleEvents streams every engine event until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := s.engine.Events().Subscribe(r.Context())
	defer s.engine.Events().Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, "state", s.state())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// --- helpers ---

// parseSendRequest decodes and validates a SendMessageRequest.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("content is required")
	}
	return &req, nil
}

// statusFor maps engine and store errors to HTTP status codes. Anything
// unrecognised came from a backend.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyInput),
		errors.Is(err, chat.ErrNoActiveApp),
		errors.Is(err, chat.ErrInvalidApp),
		errors.Is(err, chat.ErrUnsupportedKind),
		errors.Is(err, chat.ErrEmptyTitle):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrUnknownApp),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrSendInProgress),
		errors.Is(err, store.ErrDuplicateApp):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusBadGateway {
		s.logger.Error("request failed", "error", err)
	}
	s.sendJSONError(w, status, err.Error())
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
