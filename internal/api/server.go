// Package api serves a small read-only HTTP surface over the pipeline
// store: health, per-client stage counts, and the synthesized findings and
// themes for dashboard consumption.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voclens/voclens/internal/store"
)

type Server struct {
	router *chi.Mux
	db     store.Store
	logger *slog.Logger
	port   int
}

func NewServer(db store.Store, port int, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		db:     db,
		logger: logger,
		port:   port,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)
	router.Get("/api/v1/findings", s.findings)
	router.Get("/api/v1/themes", s.themes)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientParam requires the client query parameter; every data endpoint is
// tenant-scoped.
func clientParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	client := r.URL.Query().Get("client")
	if client == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing client parameter"})
		return "", false
	}
	return client, true
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	client, ok := clientParam(w, r)
	if !ok {
		return
	}
	counts, err := s.db.Counts(r.Context(), client)
	if err != nil {
		s.fail(w, "counting records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client_id": client,
		"counts":    counts,
	})
}

func (s *Server) findings(w http.ResponseWriter, r *http.Request) {
	client, ok := clientParam(w, r)
	if !ok {
		return
	}
	rows, err := s.db.ListFindings(r.Context(), client)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(w, "listing findings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client_id": client,
		"findings":  rows,
	})
}

func (s *Server) themes(w http.ResponseWriter, r *http.Request) {
	client, ok := clientParam(w, r)
	if !ok {
		return
	}
	rows, err := s.db.ListThemes(r.Context(), client)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(w, "listing themes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client_id": client,
		"themes":    rows,
	})
}

func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	s.logger.Error(action, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
