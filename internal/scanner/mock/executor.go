package mock

import (
	"context"
	"fmt"

	"github.com/adityamenon/scanforge/internal/scanner"
	"github.com/adityamenon/scanforge/pkg/models"
)

// Executor satisfies scanner.Executor for testing.
type Executor struct {
	ExecuteFunc func(ctx context.Context, job *models.AnalysisJob, stage string) (*models.StageResult, error)
}

func (m *Executor) ExecuteStage(ctx context.Context, job *models.AnalysisJob, stage string) (*models.StageResult, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, job, stage)
	}
	return &models.StageResult{}, nil
}

// NewExecutor returns an Executor producing deterministic canned
// results per stage, with no timing delays.
func NewExecutor() *Executor {
	return &Executor{
		ExecuteFunc: func(_ context.Context, job *models.AnalysisJob, stage string) (*models.StageResult, error) {
			return &models.StageResult{
				Score: 10,
				Model: "mock-v1",
				Findings: []models.Finding{
					{
						Stage:       stage,
						RuleID:      fmt.Sprintf("mock-%s-001", stage),
						Severity:    "low",
						Description: fmt.Sprintf("Simulated finding from %s for commit %s", stage, job.CommitHash),
					},
				},
			}, nil
		},
	}
}

// NewFailingExecutor returns an Executor whose named stage always
// returns the given error; other stages succeed.
func NewFailingExecutor(failAt string, err error) *Executor {
	ok := NewExecutor()
	return &Executor{
		ExecuteFunc: func(ctx context.Context, job *models.AnalysisJob, stage string) (*models.StageResult, error) {
			if stage == failAt {
				return nil, err
			}
			return ok.ExecuteStage(ctx, job, stage)
		},
	}
}

// NewBlockingExecutor returns an Executor that blocks until the context
// is cancelled, then reports a stage timeout.
func NewBlockingExecutor() *Executor {
	return &Executor{
		ExecuteFunc: func(ctx context.Context, _ *models.AnalysisJob, _ string) (*models.StageResult, error) {
			<-ctx.Done()
			return nil, scanner.ErrStageTimeout
		},
	}
}

var _ scanner.Executor = (*Executor)(nil)
