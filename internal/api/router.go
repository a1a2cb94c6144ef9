package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-xbox/internal/auth"
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
		// Health check and metrics (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermConsoleRead)).Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/consoles", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermConsoleRead)).Get("/", s.handleListConsoles)

				r.Route("/{id}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermConsoleRead))
						r.Get("/", s.handleGetConsole)
						r.Get("/state", s.handleGetConsoleState)
						r.Get("/history", s.handleConsoleHistory)
					})
					r.With(s.requirePermission(auth.PermSystemAdmin)).Get("/diagnostics", s.handleConsoleDiagnostics)
					r.With(s.requirePermission(auth.PermConsolePower)).Post("/power", s.handleConsolePower)
					r.With(s.requirePermission(auth.PermConsoleCommand)).Post("/commands", s.handleConsoleCommand)
					r.With(s.requirePermission(auth.PermConsoleCommand)).Post("/actions", s.handleConsoleAction)
				})
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// wsPath returns the configured WebSocket route below /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := 0
	statuses := s.consoles.List()
	for _, st := range statuses {
		if st.Connected() {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            s.version,
		"consoles":           len(statuses),
		"consoles_connected": connected,
	})
}
