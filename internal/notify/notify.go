package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adityamenon/scanforge/pkg/models"
)

// Emitter produces user-facing notifications on job lifecycle
// transitions. Delivery is strictly best effort: implementations must
// never let an emit failure reach the pipeline.
type Emitter interface {
	JobStarted(ctx context.Context, job *models.AnalysisJob)
	JobCompleted(ctx context.Context, job *models.AnalysisJob)
	JobFailed(ctx context.Context, job *models.AnalysisJob)
}

// NotificationStore is the subset of the store the emitter writes to.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// StoreEmitter records notifications in the database and logs them.
type StoreEmitter struct {
	store NotificationStore
}

func NewStoreEmitter(s NotificationStore) *StoreEmitter {
	return &StoreEmitter{store: s}
}

func (e *StoreEmitter) JobStarted(ctx context.Context, job *models.AnalysisJob) {
	e.emit(ctx, job, models.NotificationJobStarted,
		fmt.Sprintf("Security analysis of commit %s started", shortHash(job.CommitHash)))
}

func (e *StoreEmitter) JobCompleted(ctx context.Context, job *models.AnalysisJob) {
	msg := fmt.Sprintf("Security analysis of commit %s completed", shortHash(job.CommitHash))
	if job.Result != nil {
		msg = fmt.Sprintf("%s with score %d", msg, job.Result.Score)
	}
	e.emit(ctx, job, models.NotificationJobCompleted, msg)
}

func (e *StoreEmitter) JobFailed(ctx context.Context, job *models.AnalysisJob) {
	msg := fmt.Sprintf("Security analysis of commit %s failed", shortHash(job.CommitHash))
	if job.ErrorMessage != nil {
		msg = fmt.Sprintf("%s: %s", msg, *job.ErrorMessage)
	}
	e.emit(ctx, job, models.NotificationJobFailed, msg)
}

func (e *StoreEmitter) emit(ctx context.Context, job *models.AnalysisJob, kind, message string) {
	n := &models.Notification{
		ID:        uuid.New(),
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		// Never propagate: a lost notification must not affect the job.
		slog.Warn("notification emit failed",
			"kind", kind, "job_id", job.ID, "error", err)
		return
	}
	slog.Info("notification emitted", "kind", kind, "job_id", job.ID)
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

var _ Emitter = (*StoreEmitter)(nil)
