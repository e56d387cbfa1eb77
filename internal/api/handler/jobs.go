package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adityamenon/scanforge/internal/api/response"
	"github.com/adityamenon/scanforge/internal/cache"
	"github.com/adityamenon/scanforge/internal/store"
	"github.com/adityamenon/scanforge/pkg/models"
)

// JobStore is the subset of the store the job handlers depend on.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	ListJobsByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AnalysisJob, error)
	CancelJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	CreateJobIfAbsent(ctx context.Context, projectID uuid.UUID, commitHash, triggeredBy string) (*models.AnalysisJob, bool, error)
}

// Starter hands a newly created job to the pipeline.
type Starter interface {
	StartAsync(job *models.AnalysisJob) error
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "jobID")
		if !ok {
			return
		}

		job, err := s.GetJob(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, job)
	}
}

type progressResponse struct {
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
}

// NewJobProgressHandler returns the handler for the fast poll path,
// GET /api/v1/jobs/{jobID}/progress. A cached snapshot is served when
// present; the store is the fallback and source of truth.
func NewJobProgressHandler(s JobStore, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "jobID")
		if !ok {
			return
		}

		if ca != nil {
			snap, found, err := ca.GetJobProgress(r.Context(), id)
			if err != nil {
				slog.Warn("progress cache read failed", "job_id", id, "error", err)
			}
			if found {
				response.JSON(w, progressResponse{
					Status:   snap.Status,
					Stage:    snap.Stage,
					Progress: snap.Progress,
				})
				return
			}
		}

		job, err := s.GetJob(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		out := progressResponse{Status: job.Status, Progress: job.Progress}
		if job.Stage != nil {
			out.Stage = *job.Stage
		}
		response.JSON(w, out)
	}
}

// NewListProjectJobsHandler returns the handler for
// GET /api/v1/projects/{projectID}/jobs?limit=.
func NewListProjectJobsHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := parseUUIDParam(w, r, "projectID")
		if !ok {
			return
		}

		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}

		jobs, err := s.ListJobsByProject(r.Context(), projectID, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.AnalysisJob{}
		}

		response.JSON(w, jobs)
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
// The persisted status flips immediately; the running pipeline observes
// it before its next stage and stops.
func NewCancelJobHandler(s JobStore, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "jobID")
		if !ok {
			return
		}

		job, err := s.CancelJob(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			case errors.Is(err, store.ErrConflict):
				response.Error(w, http.StatusConflict, "CONFLICT",
					"Job has already finished", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		if ca != nil {
			snap := cache.ProgressSnapshot{Status: job.Status, Progress: job.Progress}
			if job.Stage != nil {
				snap.Stage = *job.Stage
			}
			if err := ca.SetJobProgress(r.Context(), id, snap, cache.ProgressTTL); err != nil {
				slog.Warn("progress cache update failed", "job_id", id, "error", err)
			}
		}

		slog.Info("job cancelled", "job_id", job.ID)
		response.JSON(w, job)
	}
}

// NewTriggerScanHandler returns the handler for
// POST /api/v1/projects/{projectID}/scans (manual or scheduled trigger).
func NewTriggerScanHandler(s JobStore, pipeline Starter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := parseUUIDParam(w, r, "projectID")
		if !ok {
			return
		}

		var req struct {
			CommitHash string `json:"commit_hash"`
			Scheduled  bool   `json:"scheduled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.CommitHash == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"commit_hash is required", nil)
			return
		}

		if _, err := s.GetProject(r.Context(), projectID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		triggeredBy := models.TriggerManual
		if req.Scheduled {
			triggeredBy = models.TriggerScheduled
		}

		job, _, err := s.CreateJobIfAbsent(r.Context(), projectID, req.CommitHash, triggeredBy)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		if err := pipeline.StartAsync(job); err != nil {
			slog.Warn("pipeline start skipped", "job_id", job.ID, "error", err)
		}

		response.Accepted(w, job)
	}
}

// --- helpers ---

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
