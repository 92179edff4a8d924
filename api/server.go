/*
server.go - HTTP router for the entitlement engine

PURPOSE:
  Wires handlers onto a chi router with the standard middleware stack and
  permissive CORS for local tooling.

ROUTES:
  POST /api/policies                       Append a policy version
  GET  /api/policies                       List versions (filter by kind)
  GET  /api/policies/resolve               Version in force on a date
  GET  /api/employees                      List service records
  PUT  /api/employees/{id}                 Create/correct a service record
  GET  /api/employees/{id}                 One service record
  POST /api/employees/{id}/settlement      Gratuity settlement
  POST /api/employees/{id}/arrears         Arrears recalculation
  POST /api/leave-balances                 Snapshot a leave balance
  POST /api/carryforward/project           Project inline balances
  GET  /api/carryforward/runs              Year-end run history
  POST /api/admin/yearend                  Batch run over stored balances
  GET  /api/scenarios                      List demo scenarios
  POST /api/scenarios/{name}               Load a demo scenario
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP router with all routes and middleware.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.CreatePolicy)
			r.Get("/", h.ListPolicies)
			r.Get("/resolve", h.ResolvePolicy)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Put("/{id}", h.SaveEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Post("/{id}/settlement", h.ComputeSettlement)
			r.Post("/{id}/arrears", h.RecalculateArrears)
		})

		r.Post("/leave-balances", h.SaveLeaveBalance)

		r.Route("/carryforward", func(r chi.Router) {
			r.Post("/project", h.ProjectCarryForward)
			r.Get("/runs", h.ListRuns)
		})

		r.Post("/admin/yearend", h.RunYearEnd)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/{name}", h.LoadScenario)
		})
	})

	return r
}
