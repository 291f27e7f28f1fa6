package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/shade-core/internal/shade"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/shade", func(r chi.Router) {
			r.Get("/", s.handleGetShade)
			r.Post("/position", s.handleSetPosition)
			r.Post("/toggle", s.handleToggle)
			r.Post("/mode", s.handleSetMode)
			r.Post("/reconnect", s.handleReconnect)
			r.Get("/history", s.handleGetHistory)

			r.Route("/presets", func(r chi.Router) {
				r.Get("/", s.handleListPresets)
				r.Post("/", s.handleSavePreset)
				r.Post("/{index}/apply", s.handleApplyPreset)
			})
		})

		r.Get("/sensors", s.handleGetSensors)

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", s.handleListSchedule)
			r.Post("/{index}/trigger", s.handleTriggerSchedule)
		})

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath returns the WebSocket route relative to /api/v1.
func (s *Server) wsPath() string {
	path := strings.TrimPrefix(s.wsCfg.Path, "/api/v1")
	if !strings.HasPrefix(path, "/") || path == "/" {
		return "/ws"
	}
	return path
}

// handleHealth reports database, broker and telemetry status. A failing
// database makes the service unhealthy; a disconnected broker or an
// unreachable InfluxDB only degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	snap, err := s.shade.Snapshot(r.Context())
	switch {
	case err != nil:
		checks["mqtt"] = "unknown"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	default:
		checks["mqtt"] = snap.Connection.String()
		if snap.Connection != shade.Connected && status == "ok" {
			status = "degraded"
		}
	}

	if s.telemetry != nil {
		if err := s.telemetry.HealthCheck(r.Context()); err != nil {
			checks["influxdb"] = err.Error()
			if status == "ok" {
				status = "degraded"
			}
		} else {
			checks["influxdb"] = "ok"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
