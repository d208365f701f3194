// Package api wires the HTTP handlers into a chi router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-ledger/internal/api/handlers"
	"github.com/dvloznov/bank-ledger/internal/api/middleware"
	"github.com/dvloznov/bank-ledger/internal/jobs"
)

// Deps are the collaborators the router serves. Job routes are only
// mounted when Publisher and Jobs are set.
type Deps struct {
	Query          handlers.LedgerQuerier
	Jobs           jobs.JobStore
	Publisher      jobs.Publisher
	Accounts       handlers.AccountLister
	AllowedOrigins []string
	Log            zerolog.Logger
}

// NewRouter builds the service's HTTP handler.
func NewRouter(d Deps) http.Handler {
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Log))
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         3600,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	var jobsHandler *handlers.JobsHandler
	if d.Publisher != nil && d.Jobs != nil {
		jobsHandler = handlers.NewJobsHandler(d.Jobs, d.Publisher, d.Accounts, d.Log)
	}

	users := handlers.NewUsersHandler(d.Query, d.Log)
	r.Route("/users/{userId}", func(r chi.Router) {
		r.Get("/transactions", users.ListTransactions)
		r.Get("/balance", users.GetBalance)
		if jobsHandler != nil {
			r.Post("/refresh", jobsHandler.RefreshUser)
		}
	})

	if jobsHandler != nil {
		r.Route("/api", func(r chi.Router) {
			if d.Accounts != nil {
				r.Post("/ingest", jobsHandler.IngestAll)
			}
			r.Get("/jobs", jobsHandler.ListJobs)
			r.Get("/jobs/{id}", jobsHandler.GetJob)
		})
	}

	return r
}
