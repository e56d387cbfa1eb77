package models

import (
	"time"

	"github.com/google/uuid"
)

// Scan policies. Only on_push projects get jobs from webhook deliveries.
const (
	ScanPolicyOnPush = "on_push"
	ScanPolicyManual = "manual"
)

// Project is a registered source repository. SourceID is the numeric
// project identifier the source host sends in push-event payloads.
type Project struct {
	ID              uuid.UUID `db:"id"               json:"id"`
	SourceID        int64     `db:"source_id"        json:"source_id"`
	Name            string    `db:"name"             json:"name"`
	ScanPolicy      string    `db:"scan_policy"      json:"scan_policy"`
	TrackedBranches []string  `db:"tracked_branches" json:"tracked_branches"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}

// TracksBranch reports whether branch is scanned for this project.
// Projects with no explicit list fall back to the supplied defaults.
func (p *Project) TracksBranch(branch string, defaults []string) bool {
	tracked := p.TrackedBranches
	if len(tracked) == 0 {
		tracked = defaults
	}
	for _, b := range tracked {
		if b == branch {
			return true
		}
	}
	return false
}
