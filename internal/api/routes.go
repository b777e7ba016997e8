package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Agent routes, authenticated by rig API key
	r.Route("/agent", func(r chi.Router) {
		r.Use(s.agentAuthMiddleware)
		r.Post("/heartbeat", s.HandleAgentHeartbeat)
		r.Post("/telemetry", s.HandleAgentTelemetry)
		r.Get("/commands", s.HandleAgentPollCommands)
		r.Post("/commands/{id}/complete", s.HandleAgentCompleteCommand)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Users
		r.Route("/users", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListUsers)
			r.Post("/", s.HandleCreateUser)
			r.Get("/me", s.HandleGetCurrentUser)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetUser)
				r.Put("/", s.HandleUpdateUser)
				r.Delete("/", s.HandleDeleteUser)
			})
		})

		// Credits
		r.Route("/credits", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/balance", s.HandleGetBalance)
			r.Post("/topup", s.HandleTopUp)
		})

		// Rigs
		r.Route("/rigs", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListRigs)
			r.Post("/", s.HandleCreateRig)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetRig)
				r.Put("/", s.HandleUpdateRig)
				r.Delete("/", s.HandleDeleteRig)
				r.Post("/api-key", s.HandleIssueAPIKey)
				r.Get("/telemetry", s.HandleListRigTelemetry)

				// Queue and session
				r.Route("/queue", func(r chi.Router) {
					r.Get("/", s.HandleListQueue)
					r.Post("/", s.HandleJoinQueue)
					r.Delete("/", s.HandleLeaveQueue)
				})
				r.Route("/session", func(r chi.Router) {
					r.Post("/", s.HandleActivateSession)
					r.Delete("/", s.HandleCompleteSession)
				})
			})
		})

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListEvents)
		})
	})
}
