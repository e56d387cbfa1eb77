package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/adityamenon/scanforge/internal/api/response"
)

// Recovery turns a panic in a handler into a 500 so one bad analysis
// request cannot bring the API process down. The authenticated key
// prefix, when present, pins the log line to the caller.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			attrs := []any{
				"error", v,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			}
			if prefix, ok := getKeyPrefix(r); ok {
				attrs = append(attrs, "key_prefix", prefix)
			}
			slog.Error("panic recovered", attrs...)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
