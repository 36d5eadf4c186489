// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8283"

	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the server version reported by /health.
	Version = "0.1.0"

	// isoFormat matches Python's datetime.isoformat() for aware UTC values.
	isoFormat = "2006-01-02T15:04:05.000000-07:00"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the development agent server.
type Server struct {
	addr      string
	token     string
	responder Responder
	logger    zerolog.Logger
	now       func() time.Time

	router chi.Router

	// Per-agent busy locks
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewServer creates a server listening on addr.
// If addr is empty, DefaultAddr is used.
func NewServer(addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:      addr,
		responder: EchoResponder,
		logger:    zerolog.Nop(),
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	s.setupRoutes()
	return s
}

// WithToken requires clients to present token as a bearer credential.
func (s *Server) WithToken(token string) *Server {
	s.token = token
	s.setupRoutes()
	return s
}

// WithResponder sets how replies are produced.
func (s *Server) WithResponder(r Responder) *Server {
	s.responder = r
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l zerolog.Logger) *Server {
	s.logger = l.With().Str("component", "mock-agent").Logger()
	s.setupRoutes()
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/api/agents", func(r chi.Router) {
		r.Use(BearerAuth(s.token, s.logger))
		r.Post("/{agent_id}/message", s.handleMessage)
	})

	s.router = r
}

// ============================================================================
// MESSAGE HANDLER
// ============================================================================

// handleMessage handles POST /api/agents/{agent_id}/message.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}
	req.AgentID = chi.URLParam(r, "agent_id")

	if strings.TrimSpace(req.Message) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "message must not be empty")
		return
	}
	switch req.Role {
	case "":
		req.Role = "user"
	case "user", "system":
	default:
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("role must be 'user' or 'system', got %q", req.Role))
		return
	}

	lock := s.agentLock(req.AgentID)
	if !lock.TryLock() {
		writeDetail(w, http.StatusLocked, fmt.Sprintf("Agent '%s' is currently busy.", req.AgentID))
		return
	}
	defer lock.Unlock()

	script := s.responder(req)
	if script.Status != 0 {
		detail := script.Detail
		if detail == "" {
			detail = http.StatusText(script.Status)
		}
		writeDetail(w, script.Status, detail)
		return
	}

	s.logger.Debug().
		Str("agent_id", req.AgentID).
		Int("frames", len(script.Replies)).
		Msg("streaming reply")

	s.stream(w, r, script)
}

// stream writes script as server-sent events.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, script Script) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	send := func(frame map[string]any) bool {
		if script.Delay > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(script.Delay):
			}
		}
		if err := s.sendFrame(w, flusher, frame); err != nil {
			return false
		}
		return ctx.Err() == nil
	}

	if script.Malformed {
		fmt.Fprint(w, "data: this is not json\n\n")
		flusher.Flush()
	}

	if script.Monologue != "" {
		if !send(s.frame("internal_monologue", script.Monologue, uuid.NewString())) {
			return
		}
	}

	if script.FunctionCall != "" {
		callID := uuid.NewString()
		if !send(s.frame("function_call", script.FunctionCall, callID)) {
			return
		}
		ret := s.frame("function_return", "None", callID)
		ret["status"] = "success"
		if !send(ret) {
			return
		}
	}

	replyID := uuid.NewString()
	for _, text := range script.Replies {
		if !send(s.frame("assistant_message", text, replyID)) {
			return
		}
	}

	if script.Error != "" {
		send(map[string]any{"internal_error": script.Error})
		return
	}

	if script.Stall {
		<-ctx.Done()
	}
}

// frame builds a payload carrying one field plus id and date.
func (s *Server) frame(field, value, id string) map[string]any {
	return map[string]any{
		field:  value,
		"id":   id,
		"date": s.now().UTC().Format(isoFormat),
	}
}

// sendFrame sends a single SSE frame.
func (s *Server) sendFrame(w http.ResponseWriter, flusher http.Flusher, frame map[string]any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// agentLock returns the busy lock for agentID.
func (s *Server) agentLock(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("server start")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("server shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error body in the service's {"detail": ...} shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
