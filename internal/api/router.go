package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/adityamenon/scanforge/internal/api/middleware"
	"github.com/adityamenon/scanforge/internal/api/response"
	"github.com/adityamenon/scanforge/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	PushWebhookHandler http.HandlerFunc

	GetJobHandler      http.HandlerFunc
	JobProgressHandler http.HandlerFunc
	ListJobsHandler    http.HandlerFunc
	CancelJobHandler   http.HandlerFunc
	TriggerHandler     http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public endpoints: health and the push-event webhook. The webhook
	// authenticates via shared secret inside the handler and must stay
	// off the bearer-auth path.
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Post("/api/v1/webhooks/push", orNotImplemented(deps.PushWebhookHandler))
	r.Options("/api/v1/webhooks/push", orNotImplemented(deps.PushWebhookHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/progress", orNotImplemented(deps.JobProgressHandler))
		r.Get("/api/v1/projects/{projectID}/jobs", orNotImplemented(deps.ListJobsHandler))

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(models.RoleSecurityAnalyst))
			r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(models.RoleDeveloper))
			r.Post("/api/v1/projects/{projectID}/scans", orNotImplemented(deps.TriggerHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(models.RoleAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
