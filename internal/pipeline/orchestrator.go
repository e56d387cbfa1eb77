package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adityamenon/scanforge/internal/cache"
	"github.com/adityamenon/scanforge/internal/notify"
	"github.com/adityamenon/scanforge/internal/scanner"
	"github.com/adityamenon/scanforge/internal/store"
	"github.com/adityamenon/scanforge/pkg/models"
)

// ErrAlreadyRunning is returned when a stage sequence is requested for
// a job this orchestrator is already driving.
var ErrAlreadyRunning = errors.New("job already running")

// JobStore is the subset of the store the orchestrator mutates jobs
// through. Every write is a compare-and-swap keyed on the previously
// persisted status; that is the only mutual exclusion the pipeline uses.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, expectedStatus string, opts ...store.TransitionOption) (*models.AnalysisJob, error)
}

// Orchestrator drives analysis jobs through the ordered stage sequence.
// Each job runs as an independent task; no two sequences for the same
// job ever run concurrently.
type Orchestrator struct {
	store        JobStore
	executor     scanner.Executor
	notifier     notify.Emitter
	cache        cache.Cache
	stages       []StageConfig
	stageTimeout time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStages replaces the default stage sequence.
func WithStages(stages []StageConfig) Option {
	return func(o *Orchestrator) {
		o.stages = stages
	}
}

// WithStageTimeout bounds each executor invocation. Zero disables the
// orchestrator-side deadline.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stageTimeout = d
	}
}

// New creates an Orchestrator. The cache may be nil; progress snapshots
// are then skipped.
func New(st JobStore, executor scanner.Executor, notifier notify.Emitter, ca cache.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        st,
		executor:     executor,
		notifier:     notifier,
		cache:        ca,
		stages:       DefaultStages,
		stageTimeout: 60 * time.Second,
		running:      make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartAsync runs the job's stage sequence on a background goroutine.
// It returns ErrAlreadyRunning without spawning anything if a sequence
// for this job is already in flight.
func (o *Orchestrator) StartAsync(job *models.AnalysisJob) error {
	if !o.acquire(job.ID) {
		return ErrAlreadyRunning
	}

	go func() {
		defer o.release(job.ID)
		ctx := context.Background()

		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in pipeline run", "job_id", job.ID, "error", r)
				_, err := o.store.ApplyTransition(ctx, job.ID, models.JobStatusInProgress,
					store.ToStatus(models.JobStatusFailed),
					store.WithErrorMessage(fmt.Sprintf("panic: %v", r)),
					store.MarkFailed(time.Now().UTC()))
				if err != nil && !errors.Is(err, store.ErrConflict) {
					slog.Error("persisting panic failure", "job_id", job.ID, "error", err)
				}
			}
		}()

		if err := o.run(ctx, job); err != nil {
			slog.Error("pipeline run failed", "job_id", job.ID, "error", err)
		}
	}()

	return nil
}

// Run executes the job's stage sequence synchronously. Exposed for
// callers that manage their own scheduling.
func (o *Orchestrator) Run(ctx context.Context, job *models.AnalysisJob) error {
	if !o.acquire(job.ID) {
		return ErrAlreadyRunning
	}
	defer o.release(job.ID)
	return o.run(ctx, job)
}

func (o *Orchestrator) run(ctx context.Context, job *models.AnalysisJob) error {
	if len(o.stages) == 0 {
		return errors.New("no stages configured")
	}

	current, err := o.store.ApplyTransition(ctx, job.ID, models.JobStatusPending,
		store.ToStatus(models.JobStatusInProgress),
		store.WithStage(o.stages[0].Name, 0),
		store.MarkStarted(time.Now().UTC()))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Cancelled, or another writer got there first. Not ours to touch.
			slog.Info("pipeline start skipped", "job_id", job.ID, "error", err)
			return nil
		}
		return fmt.Errorf("start job: %w", err)
	}

	o.snapshot(current)
	o.notifier.JobStarted(ctx, current)
	slog.Info("pipeline started",
		"job_id", current.ID, "project_id", current.ProjectID, "commit", current.CommitHash)

	aggregate := &models.ScanResult{}

	for i, stage := range o.stages {
		// A cancel request flips the persisted status; observe it before
		// spending work on the next stage.
		if i > 0 {
			fresh, err := o.store.GetJob(ctx, current.ID)
			if err != nil {
				return fmt.Errorf("re-read job before stage %s: %w", stage.Name, err)
			}
			if fresh.Status != models.JobStatusInProgress {
				slog.Info("pipeline stopping, job no longer in progress",
					"job_id", current.ID, "status", fresh.Status)
				o.snapshot(fresh)
				return nil
			}
		}

		result, execErr := o.executeStage(ctx, current, stage.Name)
		if execErr != nil {
			return o.fail(ctx, current, stage.Name, execErr)
		}
		mergeResult(aggregate, stage.Name, result)

		if i == len(o.stages)-1 {
			completed, err := o.store.ApplyTransition(ctx, current.ID, models.JobStatusInProgress,
				store.ToStatus(models.JobStatusCompleted),
				store.WithProgress(100),
				store.WithResult(aggregate),
				store.MarkCompleted(time.Now().UTC()))
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					// Cancelled while the final stage was in flight; the
					// stage's result is discarded.
					slog.Info("pipeline completion discarded", "job_id", current.ID)
					return nil
				}
				return fmt.Errorf("complete job: %w", err)
			}
			o.snapshot(completed)
			o.notifier.JobCompleted(ctx, completed)
			slog.Info("pipeline completed", "job_id", completed.ID, "score", aggregate.Score)
			return nil
		}

		next := o.stages[i+1]
		updated, err := o.store.ApplyTransition(ctx, current.ID, models.JobStatusInProgress,
			store.WithStage(next.Name, stage.Progress))
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				slog.Info("pipeline advance discarded", "job_id", current.ID, "stage", stage.Name)
				return nil
			}
			return fmt.Errorf("advance to stage %s: %w", next.Name, err)
		}
		current = updated
		o.snapshot(current)
	}

	return nil
}

func (o *Orchestrator) executeStage(ctx context.Context, job *models.AnalysisJob, stage string) (*models.StageResult, error) {
	stageCtx := ctx
	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}
	return o.executor.ExecuteStage(stageCtx, job, stage)
}

// fail persists the FAILED terminal state. Executor errors are never
// retried here; the message is preserved verbatim for operators.
func (o *Orchestrator) fail(ctx context.Context, job *models.AnalysisJob, stage string, execErr error) error {
	failed, err := o.store.ApplyTransition(ctx, job.ID, models.JobStatusInProgress,
		store.ToStatus(models.JobStatusFailed),
		store.WithErrorMessage(execErr.Error()),
		store.MarkFailed(time.Now().UTC()))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.Info("pipeline failure discarded", "job_id", job.ID, "stage", stage)
			return nil
		}
		return fmt.Errorf("persist failure: %w", err)
	}
	o.snapshot(failed)
	o.notifier.JobFailed(ctx, failed)
	slog.Warn("pipeline failed", "job_id", job.ID, "stage", stage, "error", execErr)
	return nil
}

func (o *Orchestrator) snapshot(job *models.AnalysisJob) {
	if o.cache == nil {
		return
	}
	snap := cache.ProgressSnapshot{
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.Stage != nil {
		snap.Stage = *job.Stage
	}
	if err := o.cache.SetJobProgress(context.Background(), job.ID, snap, cache.ProgressTTL); err != nil {
		slog.Warn("progress snapshot failed", "job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) acquire(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[id]; ok {
		return false
	}
	o.running[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id uuid.UUID) {
	o.mu.Lock()
	delete(o.running, id)
	o.mu.Unlock()
}

func mergeResult(agg *models.ScanResult, stage string, res *models.StageResult) {
	if res == nil {
		return
	}
	agg.Score += res.Score
	if res.Model != "" {
		agg.Model = res.Model
	}
	for _, f := range res.Findings {
		if f.Stage == "" {
			f.Stage = stage
		}
		agg.Findings = append(agg.Findings, f)
	}
}
