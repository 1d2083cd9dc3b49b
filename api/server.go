/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Request deadline, propagated through the context
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/settlements/*  Gateway and manual payments
  /api/parents/*      Balances, breakdowns, wallets
  /api/students/*     Fees, allocations, optional fees
  /api/schools/*      Fee stats, pending reimbursement
  /api/wallets/*      Provider account details
  /api/schedules      Fee schedule upload
  /api/scenarios/*    Demo scenarios
  /api/admin/*        Outbox trigger

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/settlements", func(r chi.Router) {
			r.Post("/", h.RecordSettlement)
			r.Post("/manual", h.RecordManualSettlement)
			r.Get("/{reference}", h.GetSettlement)
		})

		r.Route("/parents/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetParentBalance)
			r.Get("/breakdown", h.GetFeeBreakdown)
			r.Post("/wallet", h.OpenWallet)
		})

		r.Route("/students/{id}", func(r chi.Router) {
			r.Get("/fees", h.GetStudentFees)
			r.Get("/allocations", h.GetStudentAllocations)
			r.Post("/optional-fees", h.OptIn)
			r.Delete("/optional-fees/{itemID}", h.OptOut)
			r.Post("/optional-fees/{itemID}/lock", h.LockOptionalFee)
		})

		r.Route("/schools/{id}", func(r chi.Router) {
			r.Get("/fee-stats", h.GetSchoolFeeStats)
			r.Get("/settlements/pending", h.ListPendingReimbursement)
		})

		r.Post("/wallets/{id}/account", h.AssignAccount)
		r.Post("/schedules", h.LoadSchedule)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/outbox/run", h.RunOutbox)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
