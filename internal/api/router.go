package api

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/redis"
)

// RouterConfig carries the access controls for the /v1 routes.
type RouterConfig struct {
	Authenticator *auth.Authenticator
	AdminKey      string
	RateLimiter   *redis.RateLimiter // nil disables rate limiting
	Logger        *zap.Logger
}

// Routes returns the /v1 API.
func (h *Handler) Routes(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(RateLimitMiddleware(cfg.RateLimiter, cfg.Logger, CallerKeyFunc))

	r.Group(func(r chi.Router) {
		r.Use(AdminKeyMiddleware(cfg.AdminKey))

		r.Post("/admin/alerts", h.CreateAlert)
		r.Get("/admin/alerts", h.ListActiveAlerts)
		r.Delete("/admin/alerts/{id}", h.ArchiveAlert)
		r.Post("/admin/sweeps", h.TriggerSweep)
		r.Get("/analytics", h.Analytics)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.RequireUser(cfg.Authenticator))

		r.Get("/user/alerts", h.ListUserAlerts)
		r.Post("/user/alerts/{id}/snooze", h.SnoozeAlert)
		r.Post("/user/alerts/{id}/read", h.MarkRead)
	})

	return r
}
