package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/baxromumarov/telemetry-relay/internal/store"
)

// HistoryStore is the read side of the run and snapshot store.
type HistoryStore interface {
	GetRun(ctx context.Context, id string) (store.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]store.Run, error)
	ListSnapshots(ctx context.Context, limit, offset int) ([]store.Snapshot, error)
}

// RunTracker exposes the runs a relay keeps in memory.
type RunTracker interface {
	Run(id string) (store.Run, bool)
	RecentRuns() []store.Run
}

type Server struct {
	router *chi.Mux
	store  HistoryStore
	relay  RunTracker
}

// NewServer builds the operations API. history may be nil when no database is
// configured; run listings then come from the relay alone.
func NewServer(history HistoryStore, relay RunTracker) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  history,
		relay:  relay,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/runs", s.handleListRuns)
	s.router.Get("/runs/{id}", s.handleGetRun)
	s.router.Get("/vehicles", s.handleListVehicles)
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
