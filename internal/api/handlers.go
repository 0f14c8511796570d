package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/baxromumarov/telemetry-relay/internal/observability"
	"github.com/baxromumarov/telemetry-relay/internal/store"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, observability.Snapshot())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 20)

	var runs []store.Run
	if s.store != nil {
		var err error
		runs, err = s.store.ListRuns(r.Context(), limit, offset)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to fetch runs: "+err.Error())
			return
		}
	} else if s.relay != nil {
		runs = page(s.relay.RecentRuns(), limit, offset)
	}
	// Return empty list if nil to be JSON friendly
	if runs == nil {
		runs = []store.Run{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  runs,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// In-flight runs are only in memory until they finish.
	if s.relay != nil {
		if run, ok := s.relay.Run(id); ok {
			respondJSON(w, http.StatusOK, run)
			return
		}
	}
	if s.store == nil {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch run: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "Snapshot store is not configured")
		return
	}
	limit, offset := parsePagination(r, 50)

	snapshots, err := s.store.ListSnapshots(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch vehicles: "+err.Error())
		return
	}
	if snapshots == nil {
		snapshots = []store.Snapshot{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  snapshots,
		"limit":  limit,
		"offset": offset,
	})
}

func page(runs []store.Run, limit, offset int) []store.Run {
	if offset >= len(runs) {
		return nil
	}
	end := offset + limit
	if end > len(runs) {
		end = len(runs)
	}
	return runs[offset:end]
}

func parsePagination(r *http.Request, defaultLimit int) (int, int) {
	q := r.URL.Query()
	limit := defaultLimit
	offset := 0

	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	if v := q.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
