package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/alerting"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/redis"
)

// AlertService is the alert lifecycle the handlers drive.
type AlertService interface {
	CreateAlert(ctx context.Context, in alerting.CreateAlertInput, now time.Time) (*db.Alert, error)
	ListActiveAlerts(ctx context.Context) ([]*db.Alert, error)
	ArchiveAlert(ctx context.Context, id int64) error
	VisibleAlerts(ctx context.Context, user db.User, now time.Time) ([]alerting.UserAlert, error)
	Snooze(ctx context.Context, user db.User, alertID int64, now time.Time) (*db.UserAlertPreference, error)
	MarkRead(ctx context.Context, user db.User, alertID int64, read bool) (*db.UserAlertPreference, error)
	Analytics(ctx context.Context) (*db.Analytics, error)
	Authenticate(ctx context.Context, name string) (*db.User, error)
}

// SweepRunner runs a reminder sweep in-process.
type SweepRunner interface {
	RunOnce(ctx context.Context) (*alerting.SweepResult, error)
}

// SweepQueue hands a sweep to the background consumer.
type SweepQueue interface {
	EnqueueSweep(ctx context.Context, requestedBy string) (string, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// SweepQueuedResponse is returned when a sweep was handed to the queue.
type SweepQueuedResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// idempotency keys for alert creation live in their own scope
const createAlertScope = "create_alert"

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	alerts      AlertService
	idempotency *redis.IdempotencyService // nil if Redis not configured
	sweeps      SweepRunner
	queue       SweepQueue // nil if SQS not configured
	health      HealthChecker
	now         func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, alerts AlertService) *Handler {
	return &Handler{
		logger: logger,
		alerts: alerts,
		now:    time.Now,
	}
}

// WithIdempotency enables Idempotency-Key handling on alert creation.
func (h *Handler) WithIdempotency(idempotency *redis.IdempotencyService) *Handler {
	h.idempotency = idempotency
	return h
}

// WithSweeps enables the sweep trigger. queue may be nil, in which case
// sweeps run inline.
func (h *Handler) WithSweeps(runner SweepRunner, queue SweepQueue) *Handler {
	h.sweeps = runner
	h.queue = queue
	return h
}

// WithHealth makes /health ping checker.
func (h *Handler) WithHealth(checker HealthChecker) *Handler {
	h.health = checker
	return h
}

// CreateAlert handles POST /v1/admin/alerts
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req alerting.CreateAlertInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	reserved := false
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, createAlertScope, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		default:
			reserved = true
		}
	}

	alert, err := h.alerts.CreateAlert(ctx, req, h.now())
	if err != nil {
		if reserved {
			if err := h.idempotency.Release(ctx, createAlertScope, idempotencyKey); err != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(err))
			}
		}
		h.writeServiceError(w, err, "Failed to create alert")
		return
	}

	body, err := json.Marshal(alert)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode alert", "")
		return
	}

	if reserved {
		result := &redis.IdempotencyResult{
			AlertID:    alert.ID,
			StatusCode: http.StatusCreated,
			Body:       body,
		}
		if err := h.idempotency.Store(ctx, createAlertScope, idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

// ListActiveAlerts handles GET /v1/admin/alerts
func (h *Handler) ListActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.ListActiveAlerts(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Failed to list alerts")
		return
	}

	if alerts == nil {
		alerts = []*db.Alert{}
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

// ArchiveAlert handles DELETE /v1/admin/alerts/{id}
func (h *Handler) ArchiveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}

	if err := h.alerts.ArchiveAlert(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Failed to archive alert")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "archived",
	})
}

// TriggerSweep handles POST /v1/admin/sweeps
// The sweep is queued when SQS is configured and run inline otherwise.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.queue != nil {
		msgID, err := h.queue.EnqueueSweep(ctx, "admin:"+middleware.GetReqID(ctx))
		if err != nil {
			h.logger.Error("failed to enqueue sweep", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue sweep", "")
			return
		}
		h.writeJSON(w, http.StatusAccepted, SweepQueuedResponse{Status: "queued", MessageID: msgID})
		return
	}

	if h.sweeps == nil {
		h.writeError(w, http.StatusServiceUnavailable, "sweeps_disabled", "Reminder sweeps are not enabled", "")
		return
	}

	result, err := h.sweeps.RunOnce(ctx)
	if err != nil {
		h.writeServiceError(w, err, "Reminder sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Analytics handles GET /v1/analytics
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.alerts.Analytics(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Failed to compute analytics")
		return
	}
	h.writeJSON(w, http.StatusOK, analytics)
}

// ListUserAlerts handles GET /v1/user/alerts
func (h *Handler) ListUserAlerts(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	alerts, err := h.alerts.VisibleAlerts(r.Context(), *user, h.now())
	if err != nil {
		h.writeServiceError(w, err, "Failed to list alerts")
		return
	}

	if alerts == nil {
		alerts = []alerting.UserAlert{}
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

// SnoozeAlert handles POST /v1/user/alerts/{id}/snooze
func (h *Handler) SnoozeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}
	user := UserFromContext(r.Context())

	pref, err := h.alerts.Snooze(r.Context(), *user, id, h.now())
	if err != nil {
		h.writeServiceError(w, err, "Failed to snooze alert")
		return
	}

	h.logger.Info("alert snoozed",
		zap.Int64("alert_id", id),
		zap.Int64("user_id", user.ID),
		zap.Timep("until", pref.SnoozedUntil),
	)
	h.writeJSON(w, http.StatusOK, pref)
}

// MarkRead handles POST /v1/user/alerts/{id}/read?read=true
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}

	read := true
	if v := r.URL.Query().Get("read"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid read flag", "read must be true or false")
			return
		}
		read = b
	}

	user := UserFromContext(r.Context())
	pref, err := h.alerts.MarkRead(r.Context(), *user, id, read)
	if err != nil {
		h.writeServiceError(w, err, "Failed to update read state")
		return
	}
	h.writeJSON(w, http.StatusOK, pref)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) alertID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "ID must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeServiceError maps alerting errors onto problem responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, title string) {
	switch {
	case errors.Is(err, alerting.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, "invalid_request", title, err.Error())
	case errors.Is(err, alerting.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Alert not found", "")
	case errors.Is(err, alerting.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", "Unauthenticated", "")
	default:
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
