/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/plans/*      Plan catalog and accrual configuration
  /api/requests/*   Request lifecycle
  /api/users/*      Per-user balances, requests, episodes, audit
  /api/episodes/*   Sickness episode tracking
  /api/holidays/*   Public-holiday calendar

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.SavePlan)
			r.Get("/{id}", h.GetPlan)
			r.Post("/{id}/accrual", h.SaveAccrualPolicy)
			r.Get("/{id}/blackouts", h.ListBlackouts)
			r.Post("/{id}/blackouts", h.CreateBlackout)
		})
		r.Delete("/blackouts/{id}", h.DeleteBlackout)

		// Request lifecycle routes
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Get("/pending", h.ListPendingRequests)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
			r.Post("/{id}/conflicts", h.RecheckConflicts)
		})

		// User routes
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/requests", h.ListUserRequests)
			r.Get("/balances", h.ListUserBalances)
			r.Get("/balance", h.GetUserBalance)
			r.Post("/balance/recalculate", h.RecalculateBalance)
			r.Get("/episodes", h.ListUserEpisodes)
			r.Get("/audit", h.GetUserAudit)
		})

		// Episode routes
		r.Route("/episodes", func(r chi.Router) {
			r.Post("/", h.OpenEpisode)
			r.Post("/{id}/close", h.CloseEpisode)
			r.Post("/{id}/certify", h.CertifyEpisode)
			r.Post("/{id}/return", h.ReturnToWork)
		})

		// Holiday routes
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
		})
	})

	return r
}
