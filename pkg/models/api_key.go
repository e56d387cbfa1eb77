package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a bearer credential for the job API. Only the bcrypt hash
// is stored; the 8-char prefix narrows lookup before hash comparison.
// Role determines which gated operations the key may perform.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Role       string     `db:"role"         json:"role"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
