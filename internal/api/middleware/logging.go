package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// responseRecorder captures what the downstream handler wrote.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logger emits one structured line per request. Job and project route
// parameters are folded into the line so a single analysis can be
// traced from trigger through polling to cancellation, and the caller's
// key prefix identifies who drove it.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if id := chi.URLParam(r, "jobID"); id != "" {
			attrs = append(attrs, "job_id", id)
		}
		if id := chi.URLParam(r, "projectID"); id != "" {
			attrs = append(attrs, "project_id", id)
		}
		if prefix, ok := getKeyPrefix(r); ok {
			attrs = append(attrs, "key_prefix", prefix)
		}
		slog.Info("request", attrs...)
	})
}
