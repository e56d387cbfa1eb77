package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/adityamenon/scanforge/pkg/models"
)

// ErrUnauthorized is returned when the API rejects the credential. The
// stored token has already been cleared by the time callers see it.
var ErrUnauthorized = errors.New("unauthorized")

const (
	defaultInitialInterval = 2 * time.Second
	defaultMaxAttempts     = 3
)

// APIError is a non-retryable error response from the job API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// TokenStore holds the bearer credential attached to outbound calls.
// An empty token means the call goes out unauthenticated.
type TokenStore interface {
	Token() string
	Clear()
}

// MemoryTokenStore is an in-process TokenStore.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (s *MemoryTokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryTokenStore) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Clear() {
	s.SetToken("")
}

// Client is the resilient request layer dashboards use to poll job
// state. Transient failures are retried with exponential backoff; a
// rejected credential triggers the login redirect exactly once.
type Client struct {
	baseURL         string
	http            *http.Client
	tokens          TokenStore
	onAuthExpired   func()
	redirected      atomic.Bool
	initialInterval time.Duration
	maxAttempts     uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLoginRedirect sets the callback invoked (once) when a 401 clears
// the stored credential.
func WithLoginRedirect(fn func()) Option {
	return func(c *Client) {
		c.onAuthExpired = fn
	}
}

// WithRetryPolicy overrides the backoff start interval and total
// attempt budget.
func WithRetryPolicy(initial time.Duration, attempts uint64) Option {
	return func(c *Client) {
		c.initialInterval = initial
		c.maxAttempts = attempts
	}
}

// New creates a Client for the API at baseURL.
func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:         baseURL,
		http:            &http.Client{Timeout: 10 * time.Second},
		tokens:          tokens,
		initialInterval: defaultInitialInterval,
		maxAttempts:     defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Progress is the poll view of a running job.
type Progress struct {
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
}

// Job fetches a job by id.
func (c *Client) Job(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id.String(), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobProgress fetches the progress snapshot for a job.
func (c *Client) JobProgress(ctx context.Context, id uuid.UUID) (*Progress, error) {
	var p Progress
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id.String()+"/progress", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ProjectJobs lists a project's jobs, most recent first.
func (c *Client) ProjectJobs(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AnalysisJob, error) {
	path := "/api/v1/projects/" + projectID.String() + "/jobs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var jobs []*models.AnalysisJob
	if err := c.do(ctx, http.MethodGet, path, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob requests cancellation of a job.
func (c *Client) CancelJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id.String()+"/cancel", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// do performs one API call with the bounded retry policy. Connection
// failures and 408/429/5xx responses are retried; every other outcome
// is surfaced immediately.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Connection-level failure; retryable.
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			c.authExpired()
			return backoff.Permanent(fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path))
		}

		if retryableStatus(resp.StatusCode) {
			return fmt.Errorf("transient status %d from %s %s", resp.StatusCode, method, path)
		}

		if resp.StatusCode >= 400 {
			return backoff.Permanent(decodeAPIError(resp))
		}

		if out == nil {
			return nil
		}
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response data: %w", err))
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.initialInterval
	expBackoff.Multiplier = 2
	expBackoff.RandomizationFactor = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, c.maxAttempts-1), ctx)
	return backoff.Retry(operation, policy)
}

// authExpired clears the stored credential and routes to the login
// entry point exactly once for the client's lifetime.
func (c *Client) authExpired() {
	c.tokens.Clear()
	if c.onAuthExpired != nil && c.redirected.CompareAndSwap(false, true) {
		c.onAuthExpired()
	}
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

func decodeAPIError(resp *http.Response) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: resp.Status}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       env.Error.Code,
		Message:    env.Error.Message,
	}
}
