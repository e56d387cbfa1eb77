package models

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. COMPLETED, FAILED and CANCELLED are terminal and never
// transition further; the store rejects any update that would mutate a
// terminal job.
const (
	JobStatusPending    = "PENDING"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
	JobStatusCancelled  = "CANCELLED"
)

// Job trigger provenance, immutable after creation.
const (
	TriggerManual    = "manual"
	TriggerWebhook   = "webhook"
	TriggerScheduled = "scheduled"
)

// IsTerminal reports whether status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// AnalysisJob tracks one security analysis of a specific commit. The API
// returns an analysis id on creation; clients poll
// GET /api/v1/jobs/{id}/progress until the status is terminal.
type AnalysisJob struct {
	ID           uuid.UUID   `db:"id"            json:"id"`
	ProjectID    uuid.UUID   `db:"project_id"    json:"project_id"`
	CommitHash   string      `db:"commit_hash"   json:"commit_hash"`
	Status       string      `db:"status"        json:"status"`
	Stage        *string     `db:"stage"         json:"stage,omitempty"`
	Progress     int         `db:"progress"      json:"progress"`
	TriggeredBy  string      `db:"triggered_by"  json:"triggered_by"`
	Result       *ScanResult `db:"result"        json:"result,omitempty"`
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time  `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at"  json:"completed_at,omitempty"`
	FailedAt     *time.Time  `db:"failed_at"     json:"failed_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"    json:"updated_at"`
}

// ScanResult is the aggregate output attached to a COMPLETED job.
type ScanResult struct {
	Score    int       `json:"score"`
	Model    string    `json:"model"`
	Findings []Finding `json:"findings"`
}

// Finding is a single issue reported by a pipeline stage.
type Finding struct {
	Stage       string `json:"stage"`
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
}

// StageResult is what the stage executor returns for one stage.
type StageResult struct {
	Score    int       `json:"score"`
	Model    string    `json:"model,omitempty"`
	Findings []Finding `json:"findings,omitempty"`
}
