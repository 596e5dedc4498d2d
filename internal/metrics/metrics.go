package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery kinds
const (
	DeliveryInitial  = "initial"
	DeliveryReminder = "reminder"
)

// Sweep outcomes
const (
	SweepSucceeded = "succeeded"
	SweepFailed    = "failed"
	SweepSkipped   = "skipped"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	alertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_alerts_created_total",
			Help: "Total alerts created by severity",
		},
		[]string{"severity"},
	)

	alertsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_alerts_archived_total",
			Help: "Total alerts archived",
		},
	)

	deliveriesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_deliveries_recorded_total",
			Help: "In-app deliveries recorded by kind (initial or reminder)",
		},
		[]string{"kind"},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_sweep_runs_total",
			Help: "Reminder sweep runs by outcome",
		},
		[]string{"outcome"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_sweep_duration_seconds",
			Help:    "Reminder sweep wall-clock duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)

	lastSweepDeliveries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_last_sweep_deliveries",
			Help: "Reminders delivered by the most recent successful sweep",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"scope"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_published_total",
			Help: "Lifecycle events published by type and status",
		},
		[]string{"type", "status"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAlertCreated counts a newly created alert
func RecordAlertCreated(severity string) {
	alertsCreated.WithLabelValues(severity).Inc()
}

// RecordAlertArchived counts an archived alert
func RecordAlertArchived() {
	alertsArchived.Inc()
}

// RecordDeliveries counts n deliveries of the given kind
func RecordDeliveries(kind string, n int) {
	if n <= 0 {
		return
	}
	deliveriesRecorded.WithLabelValues(kind).Add(float64(n))
}

// RecordSweep records one sweep run. delivered is only meaningful when the
// outcome is SweepSucceeded.
func RecordSweep(outcome string, duration time.Duration, delivered int) {
	sweepRuns.WithLabelValues(outcome).Inc()
	if outcome == SweepSkipped {
		return
	}
	sweepDuration.Observe(duration.Seconds())
	if outcome == SweepSucceeded {
		lastSweepDeliveries.Set(float64(delivered))
	}
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// RecordEventPublished records a lifecycle event publish attempt
func RecordEventPublished(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	eventsPublished.WithLabelValues(eventType, status).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. The path
// label is the matched chi route pattern so that ids do not explode label
// cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
