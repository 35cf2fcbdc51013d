package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.observe)
	r.Use(s.cors)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated monitoring
		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics.Handler())
		}

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/system", s.handleSystem)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/slots", func(r chi.Router) {
				r.Get("/", s.handleListSlots)

				r.Route("/{contract}/{slot}", func(r chi.Router) {
					r.Get("/", s.handleGetSlot)
					r.Put("/", s.handleActivateSlot)
					r.Get("/implementations", s.handleListImplementations)
					r.Post("/reload", s.handleReloadSlot)
				})
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
