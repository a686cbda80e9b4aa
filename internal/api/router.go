package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Credential-bearing endpoints reachable without a token get
		// per-IP rate limiting against brute force.
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)

			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)

			// One-shot activation-token exchange. Performed by freshly
			// provisioned hardware before it holds any credential.
			r.Post("/devices/activate", s.handleActivateDevice)
		})

		// Camera snapshot upload callback, authenticated by device token.
		r.Post("/visitors", s.handleCreateVisitor)

		// WebSocket upgrade; clients authenticate in-band with their
		// first message.
		if s.hub != nil {
			r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
				s.hub.ServeWS(w, r)
			})
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/logout", s.handleLogout)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)
				r.Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
				})
			})

			r.Route("/visitors", func(r chi.Router) {
				r.Get("/", s.handleListVisitors)
				r.Get("/pending", s.handleListPendingVisitors)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetVisitor)
					r.Post("/approve", s.handleApproveVisitor)
					r.Post("/deny", s.handleDenyVisitor)
				})
			})

			r.Route("/commands", func(r chi.Router) {
				r.Get("/", s.handleListCommands)
				r.Post("/", s.handleSendCommand)
				r.Get("/{id}", s.handleGetCommand)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
