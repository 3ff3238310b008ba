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
  /api/deals/*          Deals, their counters, history and requests
  /api/accounts/*       Account profiles and counters
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Admin operations
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAllowedOrigins are used when the caller passes none.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Deal routes
		r.Route("/deals", func(r chi.Router) {
			r.Get("/", h.ListDeals)
			r.Post("/", h.CreateDeal)

			r.Route("/{dealID}", func(r chi.Router) {
				r.Get("/", h.GetDeal)
				r.Get("/stats", h.GetDealStats)
				r.Get("/approvals", h.GetApprovals)
				r.Get("/history", h.GetHistory)

				// Request routes
				r.Route("/requests", func(r chi.Router) {
					r.Get("/", h.ListRequests)
					r.Post("/", h.CreateRequest)
					r.Get("/{accountID}", h.GetRequest)
					r.Delete("/{accountID}", h.DeleteRequest)
					r.Put("/{accountID}/status", h.UpdateRequestStatus)
					r.Get("/{accountID}/can/{status}", h.CheckTransition)
				})
			})
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{accountID}/stats", h.GetAccountStats)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
