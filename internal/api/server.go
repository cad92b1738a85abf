package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kkkkikiki/dropsminer/internal/metrics"
	"github.com/kkkkikiki/dropsminer/internal/miner"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

// ClaimHistorySource returns the persisted claim attempts of a session.
type ClaimHistorySource interface {
	ClaimHistory(ctx context.Context, sessionID string, limit int) ([]model.ClaimEvent, error)
}

// Config captures the dependencies of the dashboard API.
type Config struct {
	Registry    *miner.Registry
	History     ClaimHistorySource // optional
	StopTimeout time.Duration
}

// Server serves the JSON dashboard API under /api.
type Server struct {
	registry    *miner.Registry
	history     ClaimHistorySource
	stopTimeout time.Duration

	router http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	srv := &Server{
		registry:    cfg.Registry,
		history:     cfg.History,
		stopTimeout: cfg.StopTimeout,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Route("/api/sessions", func(api chi.Router) {
		api.Get("/", s.ListSessions)
		api.Get("/{id}/status", s.GetStatus)
		api.Get("/{id}/claims", s.GetClaimHistory)
		api.Post("/{id}/{command}", s.Command)
	})
	return r
}

// ListSessions returns the status of every session.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.List()})
}

// GetStatus returns the read-only status of a session.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.handleSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// GetClaimHistory returns the latest persisted claim attempts of a session.
func (s *Server) GetClaimHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "claim history is not persisted", http.StatusNotImplemented)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.registry.Get(id); err != nil {
		s.handleSessionError(w, err)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := s.history.ClaimHistory(r.Context(), id, limit)
	if err != nil {
		http.Error(w, "failed to load claim history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Command applies start, pause, resume, stop or restart to a session and
// returns its status afterwards.
func (s *Server) Command(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	command := chi.URLParam(r, "command")

	var err error
	switch command {
	case "start":
		err = s.registry.Start(id)
	case "pause":
		err = s.registry.Pause(id)
	case "resume":
		err = s.registry.Resume(id)
	case "restart":
		err = s.registry.Restart(id)
	case "stop":
		ctx, cancel := context.WithTimeout(r.Context(), s.stopTimeout)
		err = s.registry.Stop(ctx, id)
		cancel()
	default:
		http.Error(w, "unknown command", http.StatusNotFound)
		return
	}
	if err != nil {
		metrics.RecordCommand(command, "error")
		s.handleSessionError(w, err)
		return
	}
	metrics.RecordCommand(command, "success")

	status, err := s.registry.Status(id)
	if err != nil {
		s.handleSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, miner.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, miner.ErrInvalidTransition), errors.Is(err, miner.ErrRestartRequired):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, miner.ErrSessionStopping):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "timed out waiting for session", http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
