// ABOUTME: HTTP server wiring: router, middleware, lifecycle
// ABOUTME: All /api routes require a verified JWT identity

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/2389/courier/internal/auth"
	"github.com/2389/courier/internal/messaging"
	"github.com/2389/courier/internal/profile"
	"github.com/2389/courier/internal/store"
)

// Server exposes the messaging core over HTTP and WebSocket.
type Server struct {
	svc      *messaging.Service
	profiles *profile.Cache
	verifier auth.TokenVerifier
	logger   *slog.Logger
	http     *http.Server
}

// New creates a server listening on addr once Start is called.
func New(svc *messaging.Service, profiles *profile.Cache, verifier auth.TokenVerifier, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:      svc,
		profiles: profiles,
		verifier: verifier,
		logger:   logger.With("component", "server"),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the full route table. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.HTTPAuthMiddleware(s.verifier))
	api.HandleFunc("/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/read", s.handleMarkRead).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/unread", s.handleUnreadCount).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/stream", s.handleMessageStream).Methods(http.MethodGet)
	api.HandleFunc("/unread", s.handleTotalUnread).Methods(http.MethodGet)
	api.HandleFunc("/stream", s.handleConversationStream).Methods(http.MethodGet)
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps core errors onto HTTP statuses without leaking
// internals.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrInvalidParticipants),
		errors.Is(err, messaging.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, messaging.ErrNotAParticipant):
		writeError(w, http.StatusForbidden, "not a participant")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
