// Package api exposes the companion over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/companion"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/go-chi/chi"
	"github.com/rs/cors"
)

const maxBodyBytes = 64 << 10

// Companion is the engine surface the HTTP handlers call.
type Companion interface {
	Chat(ctx context.Context, req companion.ChatRequest) (companion.ChatResponse, error)
	Stats(ctx context.Context, userID string) (companion.Stats, error)
	Facts(ctx context.Context, userID string) ([]memory.Fact, error)
	Memories(ctx context.Context, userID string) ([]memory.MemoryRecord, error)
	WeeklySummary(ctx context.Context, userID string) (string, error)
	SwitchUser(ctx context.Context, userID, name string) error
	ResetCompanion(ctx context.Context, userID string) error
}

type Server struct {
	companion Companion
	server    *http.Server
	ready     atomic.Bool
	started   time.Time
}

func NewServer(cfg config.GatewayConfig, c Companion) *Server {
	s := &Server{companion: c, started: time.Now()}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.Router(cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table. Empty origins allow any origin.
func (s *Server) Router(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedHeaders: []string{"Content-Type", "Accept"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/stats", s.handleStats)
		r.Get("/facts", s.handleFacts)
		r.Get("/memories", s.handleMemories)
		r.Get("/weekly-summary", s.handleWeeklySummary)
		r.Post("/switch-user", s.handleSwitchUser)
		r.Post("/reset", s.handleReset)
	})
	return r
}

func (s *Server) Addr() string { return s.server.Addr }

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.ready.Store(true)
	logger.InfoCF("api", "HTTP API listening", map[string]interface{}{"addr": s.server.Addr})
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.ready.Store(false)
	return s.server.Shutdown(ctx)
}

// SetReady lets tests and callers flip readiness without starting a listener.
func (s *Server) SetReady(v bool) { s.ready.Store(v) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req companion.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.companion.Chat(r.Context(), req)
	if err != nil {
		s.fail(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.companion.Stats(r.Context(), userParam(r))
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	facts, err := s.companion.Facts(r.Context(), userParam(r))
	if err != nil {
		s.fail(w, "facts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"facts": facts})
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	recs, err := s.companion.Memories(r.Context(), userParam(r))
	if err != nil {
		s.fail(w, "memories", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": recs})
}

func (s *Server) handleWeeklySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.companion.WeeklySummary(r.Context(), userParam(r))
	if err != nil {
		s.fail(w, "weekly-summary", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

type switchUserRequest struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
}

func (s *Server) handleSwitchUser(w http.ResponseWriter, r *http.Request) {
	var req switchUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.companion.SwitchUser(r.Context(), req.UserID, req.Name); err != nil {
		s.fail(w, "switch-user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "name": req.Name})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.companion.ResetCompanion(r.Context(), userParam(r)); err != nil {
		s.fail(w, "reset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// fail maps validation errors to 400 and everything else to 500.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if companion.IsValidationError(err) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logger.ErrorCF("api", "Request failed", map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	})
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func userParam(r *http.Request) string {
	return r.URL.Query().Get("user_id")
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("api", "Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
