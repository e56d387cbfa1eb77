package middleware

import (
	"context"
	"net/http"

	"github.com/adityamenon/scanforge/pkg/models"
)

type contextKey string

const (
	roleKey      contextKey = "role"
	keyPrefixKey contextKey = "key_prefix"
)

func SetRole(ctx context.Context, role models.Role) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// GetRole returns the caller's role. Requests that never passed
// authentication rank as VIEWER.
func GetRole(r *http.Request) models.Role {
	role, ok := r.Context().Value(roleKey).(models.Role)
	if !ok {
		return models.RoleViewer
	}
	return role
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
