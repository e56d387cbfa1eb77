package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/adityamenon/scanforge/pkg/models"
)

// HTTPExecutor runs pipeline stages against a remote analysis engine.
type HTTPExecutor struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPExecutor creates an executor for the engine at baseURL. The
// timeout bounds each stage invocation end to end.
func NewHTTPExecutor(baseURL, apiKey string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type stageRequest struct {
	JobID      string `json:"job_id"`
	ProjectID  string `json:"project_id"`
	CommitHash string `json:"commit_hash"`
}

func (e *HTTPExecutor) ExecuteStage(ctx context.Context, job *models.AnalysisJob, stage string) (*models.StageResult, error) {
	body, err := json.Marshal(stageRequest{
		JobID:      job.ID.String(),
		ProjectID:  job.ProjectID.String(),
		CommitHash: job.CommitHash,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding stage request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/stages/%s", e.baseURL, url.PathEscape(stage))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: stage %s status %d", ErrEngineUnavailable, stage, resp.StatusCode)
	}

	var result models.StageResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &result, nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrStageTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStageTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

var _ Executor = (*HTTPExecutor)(nil)
