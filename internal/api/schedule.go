package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListSchedule(w http.ResponseWriter, _ *http.Request) {
	if s.schedule == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "entries": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"entries": s.schedule.Entries(),
	})
}

// handleTriggerSchedule fires an entry now. It still only applies in
// Scheduled mode.
func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedule == nil {
		writeUnavailable(w, "schedule is not enabled")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "entry index must be an integer")
		return
	}

	outcome, err := s.schedule.Trigger(r.Context(), index)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}
