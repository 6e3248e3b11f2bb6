package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-pdu/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/health", s.handleHealth)

		// The event stream authenticates with a single-use ticket because
		// browsers cannot set headers on WebSocket upgrades.
		r.Get(s.wsPath(), s.handleWebSocket)

		// Bearer token required when api.auth.jwt_secret is set
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermOutletRead)).Get("/metrics", s.handleMetrics)
			r.With(s.requirePermission(auth.PermOutletRead)).Post("/ws-ticket", s.handleWSTicket)
			r.With(s.requirePermission(auth.PermDiscoveryRun)).Post("/discovery", s.handleDiscover)
			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)

			r.Route("/outlets", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermOutletRead))
				r.Get("/", s.handleListOutlets)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetOutlet)
					r.Get("/state", s.handleGetOutletState)
					r.With(s.requirePermission(auth.PermOutletOperate)).Put("/state", s.handleSetOutletState)
					r.Get("/telemetry", s.handleGetOutletTelemetry)
				})
			})
		})
	})

	return r
}

// wsPath returns the event stream path below /api/v1.
func (s *Server) wsPath() string {
	path := s.cfg.WebSocket.Path
	if path == "" || path[0] != '/' {
		return "/ws"
	}
	return path
}

// handleHealth returns the server and bridge health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"ws_clients": s.hub.ClientCount(),
	}
	if s.health != nil {
		body["bridge"] = s.health.Health()
	}
	writeJSON(w, http.StatusOK, body)
}
