package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adityamenon/scanforge/pkg/models"
)

const jobColumns = `id, project_id, commit_hash, status, stage, progress, triggered_by,
	result, error_message, started_at, completed_at, failed_at, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, project *models.Project) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, source_id, name, scan_policy, tracked_branches, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		project.ID, project.SourceID, project.Name, project.ScanPolicy,
		project.TrackedBranches, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_id, name, scan_policy, tracked_branches, created_at, updated_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.SourceID, &p.Name, &p.ScanPolicy, &p.TrackedBranches, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProjectBySourceID(ctx context.Context, sourceID int64) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_id, name, scan_policy, tracked_branches, created_at, updated_at
		 FROM projects WHERE source_id = $1`, sourceID,
	).Scan(&p.ID, &p.SourceID, &p.Name, &p.ScanPolicy, &p.TrackedBranches, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project by source id: %w", err)
	}
	return &p, nil
}

// --- Analysis Jobs ---

func (s *PostgresStore) CreateJobIfAbsent(ctx context.Context, projectID uuid.UUID, commitHash, triggeredBy string) (*models.AnalysisJob, bool, error) {
	// A partial unique index on (project_id, commit_hash) over
	// non-terminal webhook jobs makes duplicate deliveries lose the
	// insert race; the loser reads back the winner's row. One retry
	// covers the window where the winner reaches a terminal state
	// between the insert and the read-back.
	for attempt := 0; ; attempt++ {
		now := time.Now().UTC()
		id := uuid.New()

		row := s.pool.QueryRow(ctx,
			`INSERT INTO analysis_jobs (id, project_id, commit_hash, status, progress, triggered_by, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
			 ON CONFLICT (project_id, commit_hash)
			   WHERE triggered_by = 'webhook' AND status IN ('PENDING', 'IN_PROGRESS')
			   DO NOTHING
			 RETURNING `+jobColumns,
			id, projectID, commitHash, models.JobStatusPending, triggeredBy, now)

		job, err := scanJob(row)
		if err == nil {
			return job, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("create job: %w", err)
		}

		existing := s.pool.QueryRow(ctx,
			`SELECT `+jobColumns+`
			 FROM analysis_jobs
			 WHERE project_id = $1 AND commit_hash = $2 AND triggered_by = 'webhook'
			   AND status IN ('PENDING', 'IN_PROGRESS')
			 ORDER BY created_at DESC LIMIT 1`,
			projectID, commitHash)
		job, err = scanJob(existing)
		if errors.Is(err, pgx.ErrNoRows) {
			if attempt == 0 {
				continue
			}
			return nil, false, fmt.Errorf("create job: lost insert race twice for commit %s", commitHash)
		}
		if err != nil {
			return nil, false, fmt.Errorf("get existing job: %w", err)
		}
		return job, false, nil
	}
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobsByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.AnalysisJob, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM analysis_jobs WHERE project_id = $1
		 ORDER BY created_at DESC LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ApplyTransition(ctx context.Context, id uuid.UUID, expectedStatus string, opts ...TransitionOption) (*models.AnalysisJob, error) {
	// Terminal statuses admit no further transitions, so an expected
	// terminal status can never be the start of a valid one.
	if models.IsTerminal(expectedStatus) {
		return nil, ErrConflict
	}

	m := NewMutation(opts...)

	sets := []string{"updated_at = NOW()"}
	args := []any{id, expectedStatus}
	argIdx := 3

	addSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if m.Status != nil {
		addSet("status", *m.Status)
	}
	if m.Stage != nil {
		addSet("stage", *m.Stage)
	}
	if m.Progress != nil {
		addSet("progress", *m.Progress)
	}
	if m.Result != nil {
		addSet("result", m.Result)
	}
	if m.ErrorMessage != nil {
		addSet("error_message", *m.ErrorMessage)
	}
	if m.StartedAt != nil {
		addSet("started_at", *m.StartedAt)
	}
	if m.CompletedAt != nil {
		addSet("completed_at", *m.CompletedAt)
	}
	if m.FailedAt != nil {
		addSet("failed_at", *m.FailedAt)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE analysis_jobs SET `+strings.Join(sets, ", ")+`
		 WHERE id = $1 AND status = $2
		 RETURNING `+jobColumns, args...)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing job from a status mismatch.
		var current string
		probeErr := s.pool.QueryRow(ctx,
			`SELECT status FROM analysis_jobs WHERE id = $1`, id).Scan(&current)
		if errors.Is(probeErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe job status: %w", probeErr)
		}
		return nil, fmt.Errorf("%w: expected %s, current %s", ErrConflict, expectedStatus, current)
	}
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) CancelJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE analysis_jobs
		 SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ($3, $4)
		 RETURNING `+jobColumns,
		id, models.JobStatusCancelled, models.JobStatusPending, models.JobStatusInProgress)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var current string
		probeErr := s.pool.QueryRow(ctx,
			`SELECT status FROM analysis_jobs WHERE id = $1`, id).Scan(&current)
		if errors.Is(probeErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe job status: %w", probeErr)
		}
		return nil, fmt.Errorf("%w: job already %s", ErrConflict, current)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	return job, nil
}

// --- Notifications ---

func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, project_id, job_id, kind, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.ProjectID, n.JobID, n.Kind, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotificationsByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, job_id, kind, message, created_at
		 FROM notifications WHERE project_id = $1
		 ORDER BY created_at DESC LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.JobID, &n.Kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, role, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Role,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Role, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, role, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Role,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func scanJob(row pgx.Row) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := row.Scan(&j.ID, &j.ProjectID, &j.CommitHash, &j.Status, &j.Stage, &j.Progress,
		&j.TriggeredBy, &j.Result, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.FailedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
