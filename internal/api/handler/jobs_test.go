package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adityamenon/scanforge/internal/cache"
	"github.com/adityamenon/scanforge/internal/store"
	"github.com/adityamenon/scanforge/pkg/models"
)

// --- mock store ---

type mockJobStore struct {
	getJob     func(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	listJobs   func(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AnalysisJob, error)
	cancelJob  func(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	getProject func(ctx context.Context, id uuid.UUID) (*models.Project, error)
	createJob  func(ctx context.Context, projectID uuid.UUID, commitHash, triggeredBy string) (*models.AnalysisJob, bool, error)
}

func (m *mockJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	return m.getJob(ctx, id)
}

func (m *mockJobStore) ListJobsByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AnalysisJob, error) {
	return m.listJobs(ctx, projectID, limit)
}

func (m *mockJobStore) CancelJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	return m.cancelJob(ctx, id)
}

func (m *mockJobStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return m.getProject(ctx, id)
}

func (m *mockJobStore) CreateJobIfAbsent(ctx context.Context, projectID uuid.UUID, commitHash, triggeredBy string) (*models.AnalysisJob, bool, error) {
	return m.createJob(ctx, projectID, commitHash, triggeredBy)
}

// --- mock cache ---

type mockCache struct {
	snaps   map[uuid.UUID]cache.ProgressSnapshot
	sets    int
	lastTTL time.Duration
}

func newMockCache() *mockCache {
	return &mockCache{snaps: make(map[uuid.UUID]cache.ProgressSnapshot)}
}

func (m *mockCache) Ping(context.Context) error { return nil }
func (m *mockCache) Close() error               { return nil }

func (m *mockCache) SetJobProgress(_ context.Context, jobID uuid.UUID, snap cache.ProgressSnapshot, ttl time.Duration) error {
	m.snaps[jobID] = snap
	m.sets++
	m.lastTTL = ttl
	return nil
}

func (m *mockCache) GetJobProgress(_ context.Context, jobID uuid.UUID) (cache.ProgressSnapshot, bool, error) {
	snap, ok := m.snaps[jobID]
	return snap, ok, nil
}

func (m *mockCache) DeleteJobProgress(_ context.Context, jobID uuid.UUID) error {
	delete(m.snaps, jobID)
	return nil
}

func (m *mockCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

// --- mock pipeline ---

type mockStarter struct {
	started []uuid.UUID
	err     error
}

func (m *mockStarter) StartAsync(job *models.AnalysisJob) error {
	m.started = append(m.started, job.ID)
	return m.err
}

// --- helpers ---

func reqWithParam(method, target, name, value string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func decodeErrCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Error.Code
}

func sampleJob(status string) *models.AnalysisJob {
	stage := "secret_scan"
	return &models.AnalysisJob{
		ID:          uuid.New(),
		ProjectID:   uuid.New(),
		CommitHash:  "abc123",
		Status:      status,
		Stage:       &stage,
		Progress:    15,
		TriggeredBy: models.TriggerWebhook,
		CreatedAt:   time.Now().UTC(),
	}
}

// --- GetJob ---

func TestGetJobHandler_Success(t *testing.T) {
	job := sampleJob(models.JobStatusInProgress)
	s := &mockJobStore{getJob: func(_ context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
		if id != job.ID {
			return nil, store.ErrNotFound
		}
		return job, nil
	}}

	h := NewGetJobHandler(s)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/jobs/"+job.ID.String(), "jobID", job.ID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["id"] != job.ID.String() {
		t.Errorf("unexpected id: %v", data["id"])
	}
	if data["status"] != models.JobStatusInProgress {
		t.Errorf("unexpected status: %v", data["status"])
	}
}

func TestGetJobHandler_NotFound(t *testing.T) {
	s := &mockJobStore{getJob: func(context.Context, uuid.UUID) (*models.AnalysisJob, error) {
		return nil, store.ErrNotFound
	}}

	h := NewGetJobHandler(s)
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/jobs/"+id, "jobID", id, nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("unexpected error code: %s", code)
	}
}

func TestGetJobHandler_InvalidID(t *testing.T) {
	h := NewGetJobHandler(&mockJobStore{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/jobs/nope", "jobID", "nope", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// --- JobProgress ---

func TestJobProgressHandler_ServesCachedSnapshot(t *testing.T) {
	jobID := uuid.New()
	ca := newMockCache()
	ca.snaps[jobID] = cache.ProgressSnapshot{Status: models.JobStatusInProgress, Stage: "ai_review", Progress: 65}

	s := &mockJobStore{getJob: func(context.Context, uuid.UUID) (*models.AnalysisJob, error) {
		t.Fatal("store must not be hit on cache hit")
		return nil, nil
	}}

	h := NewJobProgressHandler(s, ca)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/progress", "jobID", jobID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := decodeData(t, rec)
	if data["stage"] != "ai_review" {
		t.Errorf("unexpected stage: %v", data["stage"])
	}
	if data["progress"] != float64(65) {
		t.Errorf("unexpected progress: %v", data["progress"])
	}
}

func TestJobProgressHandler_FallsBackToStore(t *testing.T) {
	job := sampleJob(models.JobStatusInProgress)
	s := &mockJobStore{getJob: func(context.Context, uuid.UUID) (*models.AnalysisJob, error) {
		return job, nil
	}}

	h := NewJobProgressHandler(s, newMockCache())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/progress", "jobID", job.ID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := decodeData(t, rec)
	if data["status"] != models.JobStatusInProgress {
		t.Errorf("unexpected status: %v", data["status"])
	}
	if data["stage"] != "secret_scan" {
		t.Errorf("unexpected stage: %v", data["stage"])
	}
}

func TestJobProgressHandler_NilCache(t *testing.T) {
	job := sampleJob(models.JobStatusPending)
	s := &mockJobStore{getJob: func(context.Context, uuid.UUID) (*models.AnalysisJob, error) {
		return job, nil
	}}

	h := NewJobProgressHandler(s, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/progress", "jobID", job.ID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

// --- ListProjectJobs ---

func TestListProjectJobsHandler_DefaultLimit(t *testing.T) {
	var gotLimit int
	s := &mockJobStore{listJobs: func(_ context.Context, _ uuid.UUID, limit int) ([]*models.AnalysisJob, error) {
		gotLimit = limit
		return []*models.AnalysisJob{sampleJob(models.JobStatusCompleted)}, nil
	}}

	h := NewListProjectJobsHandler(s)
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/projects/"+id+"/jobs", "projectID", id, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotLimit != 20 {
		t.Errorf("expected default limit 20, got %d", gotLimit)
	}
}

func TestListProjectJobsHandler_BadLimit(t *testing.T) {
	h := NewListProjectJobsHandler(&mockJobStore{})
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/projects/"+id+"/jobs?limit=banana", "projectID", id, nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListProjectJobsHandler_EmptyIsArray(t *testing.T) {
	s := &mockJobStore{listJobs: func(context.Context, uuid.UUID, int) ([]*models.AnalysisJob, error) {
		return nil, nil
	}}

	h := NewListProjectJobsHandler(s)
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	h.ServeHTTP(rec, reqWithParam(http.MethodGet, "/api/v1/projects/"+id+"/jobs", "projectID", id, nil))

	var env struct {
		Data []any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data == nil {
		t.Error("expected empty array, got null")
	}
}

// --- CancelJob ---

func TestCancelJobHandler_Success(t *testing.T) {
	job := sampleJob(models.JobStatusCancelled)
	s := &mockJobStore{cancelJob: func(context.Context, uuid.UUID) (*models.AnalysisJob, error) {
		return job, nil
	}}
	ca := newMockCache()

	h := NewCancelJobHandler(s, ca)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, reqWithParam(http.MethodPost, "/api/v1/jobs/"+job.ID.String()+"/cancel", "jobID", job.ID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["status"] != models.JobStatusCancelled {
		t.Errorf("unexpected status: %v", data["status"])
	}
	if snap, ok := ca.snaps[job.ID]; !ok || snap.Status != models.JobStatusCancelled {
		t.Error("expected cache snapshot updated to CANCELLED")
	}
	if ca.lastTTL != cache.ProgressTTL {
		t.Errorf("expected snapshot TTL %v, got %v", cache.ProgressTTL, ca.lastTTL)
	}
}

func TestCancelJobHandler_AlreadyFinished(t *testing.T) {
	s := &mockJobStore{cancelJob: func(context.Context, uuid.UUID) (*models.AnalysisJob, error) {
		return nil, store.ErrConflict
	}}

	h := NewCancelJobHandler(s, nil)
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	h.ServeHTTP(rec, reqWithParam(http.MethodPost, "/api/v1/jobs/"+id+"/cancel", "jobID", id, nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "CONFLICT" {
		t.Errorf("unexpected error code: %s", code)
	}
}

func TestCancelJobHandler_NotFound(t *testing.T) {
	s := &mockJobStore{cancelJob: func(context.Context, uuid.UUID) (*models.AnalysisJob, error) {
		return nil, store.ErrNotFound
	}}

	h := NewCancelJobHandler(s, nil)
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	h.ServeHTTP(rec, reqWithParam(http.MethodPost, "/api/v1/jobs/"+id+"/cancel", "jobID", id, nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// --- TriggerScan ---

func TestTriggerScanHandler_CreatesAndStarts(t *testing.T) {
	projectID := uuid.New()
	var gotTrigger string
	s := &mockJobStore{
		getProject: func(context.Context, uuid.UUID) (*models.Project, error) {
			return &models.Project{ID: projectID}, nil
		},
		createJob: func(_ context.Context, pid uuid.UUID, commit, triggeredBy string) (*models.AnalysisJob, bool, error) {
			gotTrigger = triggeredBy
			return &models.AnalysisJob{ID: uuid.New(), ProjectID: pid, CommitHash: commit, Status: models.JobStatusPending, TriggeredBy: triggeredBy}, true, nil
		},
	}
	starter := &mockStarter{}

	h := NewTriggerScanHandler(s, starter)
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(map[string]any{"commit_hash": "abc123"})
	h.ServeHTTP(rec, reqWithParam(http.MethodPost, "/api/v1/projects/"+projectID.String()+"/scans", "projectID", projectID.String(), body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotTrigger != models.TriggerManual {
		t.Errorf("expected manual trigger, got %s", gotTrigger)
	}
	if len(starter.started) != 1 {
		t.Errorf("expected pipeline started once, got %d", len(starter.started))
	}
}

func TestTriggerScanHandler_ScheduledFlag(t *testing.T) {
	projectID := uuid.New()
	var gotTrigger string
	s := &mockJobStore{
		getProject: func(context.Context, uuid.UUID) (*models.Project, error) {
			return &models.Project{ID: projectID}, nil
		},
		createJob: func(_ context.Context, pid uuid.UUID, commit, triggeredBy string) (*models.AnalysisJob, bool, error) {
			gotTrigger = triggeredBy
			return &models.AnalysisJob{ID: uuid.New(), ProjectID: pid, CommitHash: commit, TriggeredBy: triggeredBy}, true, nil
		},
	}

	h := NewTriggerScanHandler(s, &mockStarter{})
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(map[string]any{"commit_hash": "abc123", "scheduled": true})
	h.ServeHTTP(rec, reqWithParam(http.MethodPost, "/api/v1/projects/"+projectID.String()+"/scans", "projectID", projectID.String(), body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if gotTrigger != models.TriggerScheduled {
		t.Errorf("expected scheduled trigger, got %s", gotTrigger)
	}
}

func TestTriggerScanHandler_MissingCommit(t *testing.T) {
	h := NewTriggerScanHandler(&mockJobStore{}, &mockStarter{})
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	body, _ := json.Marshal(map[string]any{})
	h.ServeHTTP(rec, reqWithParam(http.MethodPost, "/api/v1/projects/"+id+"/scans", "projectID", id, body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTriggerScanHandler_ProjectNotFound(t *testing.T) {
	s := &mockJobStore{getProject: func(context.Context, uuid.UUID) (*models.Project, error) {
		return nil, store.ErrNotFound
	}}

	h := NewTriggerScanHandler(s, &mockStarter{})
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	body, _ := json.Marshal(map[string]any{"commit_hash": "abc123"})
	h.ServeHTTP(rec, reqWithParam(http.MethodPost, "/api/v1/projects/"+id+"/scans", "projectID", id, body))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTriggerScanHandler_StartFailureStillAccepted(t *testing.T) {
	projectID := uuid.New()
	s := &mockJobStore{
		getProject: func(context.Context, uuid.UUID) (*models.Project, error) {
			return &models.Project{ID: projectID}, nil
		},
		createJob: func(_ context.Context, pid uuid.UUID, commit, triggeredBy string) (*models.AnalysisJob, bool, error) {
			return &models.AnalysisJob{ID: uuid.New(), ProjectID: pid, CommitHash: commit}, false, nil
		},
	}
	starter := &mockStarter{err: errors.New("already running")}

	h := NewTriggerScanHandler(s, starter)
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(map[string]any{"commit_hash": "abc123"})
	h.ServeHTTP(rec, reqWithParam(http.MethodPost, "/api/v1/projects/"+projectID.String()+"/scans", "projectID", projectID.String(), body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}
