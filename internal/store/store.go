package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/adityamenon/scanforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConflict is returned by conditional updates when the job's current
// status no longer matches the expected status. Callers must stop and
// re-read state rather than retry blindly.
var ErrConflict = errors.New("job status conflict")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetProjectBySourceID(ctx context.Context, sourceID int64) (*models.Project, error)

	// CreateJobIfAbsent inserts a PENDING job for the commit. For
	// webhook-triggered jobs, an existing non-terminal job for the same
	// (project, commit) is returned with created=false instead of
	// inserting a duplicate.
	CreateJobIfAbsent(ctx context.Context, projectID uuid.UUID, commitHash, triggeredBy string) (*models.AnalysisJob, bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	ListJobsByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AnalysisJob, error)

	// ApplyTransition performs a compare-and-swap update: the mutation is
	// applied only if the job's current status equals expectedStatus,
	// enforced by a single conditional UPDATE. Returns ErrConflict when
	// the status has diverged.
	ApplyTransition(ctx context.Context, id uuid.UUID, expectedStatus string, opts ...TransitionOption) (*models.AnalysisJob, error)

	// CancelJob transitions a PENDING or IN_PROGRESS job to CANCELLED.
	// Returns ErrConflict if the job is already terminal.
	CancelJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotificationsByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.Notification, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// JobMutation is the set of field updates applied by ApplyTransition.
// Nil fields are left untouched. Exported so alternative Store
// implementations (and test fakes) can interpret transition options.
type JobMutation struct {
	Status       *string
	Stage        *string
	Progress     *int
	Result       *models.ScanResult
	ErrorMessage *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
}

// TransitionOption mutates a job field as part of an ApplyTransition call.
type TransitionOption func(*JobMutation)

// NewMutation collects options into a JobMutation.
func NewMutation(opts ...TransitionOption) JobMutation {
	var m JobMutation
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func ToStatus(status string) TransitionOption {
	return func(m *JobMutation) {
		m.Status = &status
	}
}

func WithStage(stage string, progress int) TransitionOption {
	return func(m *JobMutation) {
		m.Stage = &stage
		m.Progress = &progress
	}
}

func WithProgress(progress int) TransitionOption {
	return func(m *JobMutation) {
		m.Progress = &progress
	}
}

func WithResult(result *models.ScanResult) TransitionOption {
	return func(m *JobMutation) {
		m.Result = result
	}
}

func WithErrorMessage(msg string) TransitionOption {
	return func(m *JobMutation) {
		m.ErrorMessage = &msg
	}
}

func MarkStarted(at time.Time) TransitionOption {
	return func(m *JobMutation) {
		m.StartedAt = &at
	}
}

func MarkCompleted(at time.Time) TransitionOption {
	return func(m *JobMutation) {
		m.CompletedAt = &at
	}
}

func MarkFailed(at time.Time) TransitionOption {
	return func(m *JobMutation) {
		m.FailedAt = &at
	}
}
