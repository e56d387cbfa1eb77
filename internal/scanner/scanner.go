package scanner

import (
	"context"
	"errors"

	"github.com/adityamenon/scanforge/pkg/models"
)

// Sentinel errors for analysis engine failures.
var (
	ErrEngineUnavailable = errors.New("analysis engine unavailable")
	ErrStageTimeout      = errors.New("analysis stage timeout")
	ErrInvalidResponse   = errors.New("analysis engine returned invalid response")
)

// Executor performs the substantive work of one pipeline stage. The
// orchestrator treats it as an opaque collaborator: one call per stage,
// a result or an error back. Retries of a failed stage, if any, are the
// executor's own concern.
type Executor interface {
	ExecuteStage(ctx context.Context, job *models.AnalysisJob, stage string) (*models.StageResult, error)
}
