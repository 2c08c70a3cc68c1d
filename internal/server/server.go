// ABOUTME: HTTP server exposing the chat engine as a JSON and SSE API
// ABOUTME: Owns route registration, listener lifecycle and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/dedupe"
)

const (
	// idempotencyTTL is how long a send idempotency key is remembered.
	idempotencyTTL = 10 * time.Minute
	// idempotencyMaxKeys bounds the idempotency cache.
	idempotencyMaxKeys = 1000
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr   string
	Engine *chat.Engine

	// Dedupe remembers send idempotency keys. Created when nil.
	Dedupe *dedupe.Cache

	Logger *slog.Logger
}

// Server serves the chat API.
type Server struct {
	addr       string
	engine     *chat.Engine
	dedupe     *dedupe.Cache
	ownsDedupe bool
	markdown   *markdownRenderer
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server. Call Run to listen.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:     cfg.Addr,
		engine:   cfg.Engine,
		dedupe:   cfg.Dedupe,
		markdown: newMarkdownRenderer(),
		logger:   logger.With("component", "http"),
	}
	if s.dedupe == nil {
		s.dedupe = dedupe.New(idempotencyTTL, idempotencyMaxKeys)
		s.ownsDedupe = true
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/apps", s.handleListApps)
	mux.HandleFunc("POST /api/apps", s.handleCreateApp)
	mux.HandleFunc("DELETE /api/apps/{id}", s.handleDeleteApp)
	mux.HandleFunc("POST /api/apps/{id}/activate", s.handleActivateApp)

	mux.HandleFunc("GET /api/state", s.handleState)

	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("POST /api/conversations/refresh", s.handleRefreshConversations)
	mux.HandleFunc("POST /api/conversations/deselect", s.handleDeselectConversation)
	mux.HandleFunc("POST /api/conversations/{id}/select", s.handleSelectConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("PATCH /api/conversations/{id}", s.handleRenameConversation)

	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	return mux
}

// Run listens on the configured address and blocks until ctx is cancelled
// or the server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already done.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.ownsDedupe {
		s.dedupe.Close()
	}
	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
