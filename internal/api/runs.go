package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/journal"
)

// journalAvailable writes 503 and returns false when no journal is wired.
func (s *Server) journalAvailable(w http.ResponseWriter) bool {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "run journal is disabled")
		return false
	}
	return true
}

// handleListRuns pages through journaled runs, most recent first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.journalAvailable(w) {
		return
	}

	var filter journal.Filter
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	runs, err := s.journal.ListRuns(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns one journaled run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.journalAvailable(w) {
		return
	}
	run, err := s.journal.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListRunEvents returns the progress events of one run in order.
func (s *Server) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	if !s.journalAvailable(w) {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.journal.GetRun(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	events, err := s.journal.ListEvents(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "events": events})
}
