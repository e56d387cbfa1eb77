package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds emitted on job lifecycle transitions.
const (
	NotificationJobStarted   = "job_started"
	NotificationJobCompleted = "job_completed"
	NotificationJobFailed    = "job_failed"
)

// Notification is a user-facing record of a job lifecycle transition.
// Delivery is best effort; a failed insert never affects the job.
type Notification struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	ProjectID uuid.UUID `db:"project_id" json:"project_id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	Kind      string    `db:"kind"       json:"kind"`
	Message   string    `db:"message"    json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
