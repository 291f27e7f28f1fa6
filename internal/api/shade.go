package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/shade-core/internal/shade"
)

// History query limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// PositionRequest is the body of POST /shade/position.
type PositionRequest struct {
	Position *int `json:"position"`
}

// ModeRequest is the body of POST /shade/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// PresetRequest is the body of POST /shade/presets.
type PresetRequest struct {
	Name  string `json:"name"`
	Value *int   `json:"value"`
}

// presetView is a preset with its list index.
type presetView struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// handleGetShade returns the current snapshot.
func (s *Server) handleGetShade(w http.ResponseWriter, r *http.Request) {
	snap, err := s.shade.Snapshot(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetPosition commands a position. Out-of-range values are clamped.
func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Position == nil {
		writeValidationError(w, "position is required")
		return
	}

	snap, err := s.shade.SetPosition(r.Context(), *req.Position)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	snap, err := s.shade.Toggle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode, err := shade.ParseModeInput(req.Mode)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	snap, err := s.shade.SetMode(r.Context(), mode)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleReconnect starts a connection attempt if the session is down.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	snap, err := s.shade.Reconnect(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// handleGetHistory returns recent position changes, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "position history is not configured")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.shade.Presets(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	views := make([]presetView, 0, len(presets))
	for i, p := range presets {
		views = append(views, presetView{Index: i, Name: p.Name, Value: p.Value})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"presets": views,
		"count":   len(views),
	})
}

func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	var req PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeValidationError(w, "value is required")
		return
	}

	preset, index, err := s.shade.SavePreset(r.Context(), req.Name, *req.Value)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presetView{Index: index, Name: preset.Name, Value: preset.Value})
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "preset index must be an integer")
		return
	}

	snap, err := s.shade.ApplyPresetAt(r.Context(), index)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetSensors returns the latest environment readings.
func (s *Server) handleGetSensors(w http.ResponseWriter, r *http.Request) {
	snap, err := s.shade.Snapshot(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Sensors)
}

// parseLimit validates the limit query parameter.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errInvalidLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
