package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/adityamenon/scanforge/internal/store"
	"github.com/adityamenon/scanforge/pkg/models"
)

// Store is the subset of the job store the ingestion gate uses.
type Store interface {
	GetProjectBySourceID(ctx context.Context, sourceID int64) (*models.Project, error)
	CreateJobIfAbsent(ctx context.Context, projectID uuid.UUID, commitHash, triggeredBy string) (*models.AnalysisJob, bool, error)
}

// Starter hands an accepted job to the pipeline without blocking.
type Starter interface {
	StartAsync(job *models.AnalysisJob) error
}

// Handler validates inbound push events and creates analysis jobs. The
// webhook delivery is always acknowledged synchronously; the pipeline
// runs on its own goroutine and never blocks the response.
type Handler struct {
	store           Store
	pipeline        Starter
	defaultBranches []string
	secret          string
	validate        *validator.Validate
}

// NewHandler creates the push-event handler. secret, when non-empty, is
// required in the X-Webhook-Token header. defaultBranches applies to
// projects with no tracked-branch override.
func NewHandler(st Store, pipeline Starter, defaultBranches []string, secret string) *Handler {
	return &Handler{
		store:           st,
		pipeline:        pipeline,
		defaultBranches: defaultBranches,
		secret:          secret,
		validate:        validator.New(),
	}
}

type pushEvent struct {
	ObjectKind string       `json:"object_kind" validate:"required"`
	Project    *pushProject `json:"project"     validate:"required"`
	Commits    []pushCommit `json:"commits"     validate:"required,min=1,dive"`
	Ref        string       `json:"ref"         validate:"required"`
}

type pushProject struct {
	ID int64 `json:"id" validate:"required"`
}

type pushCommit struct {
	ID      string     `json:"id" validate:"required"`
	Message string     `json:"message"`
	Author  pushAuthor `json:"author"`
}

type pushAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type pushResponse struct {
	Message    string `json:"message"`
	AnalysisID string `json:"analysisId,omitempty"`
	ProjectID  string `json:"projectId,omitempty"`
	CommitHash string `json:"commitHash,omitempty"`
	Status     string `json:"status,omitempty"`
}

// HandlePush serves POST /api/v1/webhooks/push.
func (h *Handler) HandlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		preflight(w)
		return
	}
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.secret != "" {
		token := r.Header.Get("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
			writeMessage(w, http.StatusUnauthorized, "Invalid webhook token")
			return
		}
	}

	var event pushEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if event.ObjectKind != "" && event.ObjectKind != "push" {
		// Other hook kinds are acknowledged and dropped.
		writeMessage(w, http.StatusOK, "Not a push event, ignoring")
		return
	}
	if err := h.validate.Struct(&event); err != nil {
		writeMessage(w, http.StatusBadRequest, "Missing required push event fields")
		return
	}

	branch := strings.TrimPrefix(event.Ref, "refs/heads/")

	project, err := h.store.GetProjectBySourceID(r.Context(), event.Project.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeMessage(w, http.StatusOK, "Project not registered, ignoring")
			return
		}
		slog.Error("webhook project lookup failed", "source_id", event.Project.ID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if project.ScanPolicy != models.ScanPolicyOnPush {
		writeMessage(w, http.StatusOK, "Push scanning disabled for project, ignoring")
		return
	}
	if !project.TracksBranch(branch, h.defaultBranches) {
		writeMessage(w, http.StatusOK, "Not a tracked branch, ignoring")
		return
	}

	// Commits arrive oldest to newest; the head of the push is last.
	head := event.Commits[len(event.Commits)-1]

	job, created, err := h.store.CreateJobIfAbsent(r.Context(), project.ID, head.ID, models.TriggerWebhook)
	if err != nil {
		slog.Error("webhook job creation failed",
			"project_id", project.ID, "commit", head.ID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}

	message := "Analysis job created"
	if created {
		if err := h.pipeline.StartAsync(job); err != nil {
			// Duplicate start; the job is already being driven.
			slog.Warn("pipeline start skipped", "job_id", job.ID, "error", err)
		}
	} else {
		message = "Analysis already in progress for this commit"
		slog.Info("duplicate webhook delivery",
			"job_id", job.ID, "project_id", project.ID, "commit", head.ID)
	}

	writeJSON(w, http.StatusAccepted, pushResponse{
		Message:    message,
		AnalysisID: job.ID.String(),
		ProjectID:  job.ProjectID.String(),
		CommitHash: job.CommitHash,
		Status:     job.Status,
	})
}

func preflight(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Webhook-Token")
	w.WriteHeader(http.StatusNoContent)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, pushResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
