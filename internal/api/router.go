package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FastyBird/sonoff-connector-sub001/internal/connector"
)

// healthCheckTimeout bounds all component checks of one health request.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware, s.accessLogMiddleware, s.recoverMiddleware, limitBody)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handle(s.handleListDevices))
			r.Get("/{id}", s.handle(s.handleGetDevice))
		})

		r.Put("/properties/{id}/expected", s.handle(s.handleSetExpected))
	})

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string                `json:"status"`
	Version    string                `json:"version"`
	Connector  string                `json:"connector,omitempty"`
	Mode       string                `json:"mode,omitempty"`
	Statistics connector.HealthStats `json:"statistics"`
	Components map[string]string     `json:"components,omitempty"`
}

// handleHealth reports the connector and its infrastructure. Any failing
// component makes the response 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:     "ok",
		Version:    s.version,
		Statistics: s.connector.Stats(ctx),
	}
	if entity, err := s.connector.Entity(ctx); err == nil {
		resp.Connector = entity.Identifier
		resp.Mode = entity.Mode
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Components = make(map[string]string, len(names))
	}
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
