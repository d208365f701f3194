package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-ledger/internal/api/middleware"
	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/jobs"
)

// AccountLister lists the provider's accounts. *provider.Client implements it.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]string, error)
}

// JobsHandler handles ingestion job endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	accounts  AccountLister
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, accounts AccountLister, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		accounts:  accounts,
		log:       log,
	}
}

// RefreshUser handles POST /users/{userId}/refresh
func (h *JobsHandler) RefreshUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	job := &jobs.IngestAccountJob{AccountID: userID, Trigger: jobs.TriggerAPI}
	if err := h.publisher.PublishIngestAccount(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue ingestion job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingestion job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("account_id", userID).Msg("Ingestion job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// IngestAll handles POST /api/ingest
func (h *JobsHandler) IngestAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := h.accounts.ListAccounts(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list provider accounts")
		if errors.Is(err, domain.ErrSourceUnavailable) {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Provider unavailable")
			return
		}
		middleware.WriteError(w, http.StatusBadGateway, "Failed to list provider accounts")
		return
	}

	enqueued := make([]*jobs.IngestAccountJob, 0, len(accounts))
	for _, accountID := range accounts {
		job := &jobs.IngestAccountJob{AccountID: accountID, Trigger: jobs.TriggerAPI}
		if err := h.publisher.PublishIngestAccount(ctx, job); err != nil {
			h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to enqueue ingestion job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingestion jobs")
			return
		}
		enqueued = append(enqueued, job)
	}

	h.log.Info().Int("jobs", len(enqueued)).Msg("Ingestion jobs enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobs":  enqueued,
		"count": len(enqueued),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		AccountID: query.Get("account_id"),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
