// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload job outcomes used as the "state" label.
const (
	UploadQueued    = "queued"
	UploadSucceeded = "success"
	UploadFailed    = "error"
	UploadResumed   = "resumed"
)

var (
	once sync.Once

	// Counters
	UploadJobs          *prometheus.CounterVec // state
	UploadRetries       prometheus.Counter
	AIRequests          *prometheus.CounterVec // op, outcome
	SearchCacheLookups  *prometheus.CounterVec // result
	TokenRefreshes      *prometheus.CounterVec // outcome
	AutosaveWrites      *prometheus.CounterVec // field, outcome
	HTTPRequests        *prometheus.CounterVec // method, route, code
	HTTPRequestDuration *prometheus.HistogramVec

	// Histograms (seconds)
	UploadDuration prometheus.Observer

	// Gauges
	ActiveUploadsGauge prometheus.Gauge
	QueueDepthGauge    prometheus.Gauge
	PendingSavesGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		UploadJobs = promauto.NewCounterVec(prometheus.CounterOpts{Name: "reconic_upload_jobs_total", Help: "Upload jobs by terminal or entry state"}, []string{"state"})
		UploadRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "reconic_upload_retries_total", Help: "Resumable upload retry attempts"})
		AIRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "reconic_ai_requests_total", Help: "Generative AI calls by operation and outcome"}, []string{"op", "outcome"})
		SearchCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "reconic_search_cache_lookups_total", Help: "YouTube search cache lookups by result"}, []string{"result"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "reconic_token_refreshes_total", Help: "OAuth token refreshes by outcome"}, []string{"outcome"})
		AutosaveWrites = promauto.NewCounterVec(prometheus.CounterOpts{Name: "reconic_autosave_writes_total", Help: "Debounced project writes by field and outcome"}, []string{"field", "outcome"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "reconic_http_requests_total", Help: "HTTP requests by method, route and status code"}, []string{"method", "route", "code"})
		HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "reconic_http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets}, []string{"route"})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "reconic_upload_duration_seconds", Help: "Video upload duration seconds", Buckets: []float64{5, 30, 60, 120, 300, 600, 1800, 3600}})
		ActiveUploadsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "reconic_active_uploads", Help: "Uploads currently transferring"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "reconic_upload_queue_depth", Help: "Upload jobs waiting for a worker slot"})
		PendingSavesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "reconic_autosave_pending", Help: "Debounced writes waiting to fire"})
	})
}

// IncUploadJob counts an upload job entering state.
func IncUploadJob(state string) {
	if UploadJobs != nil {
		UploadJobs.WithLabelValues(state).Inc()
	}
}

// IncUploadRetry counts one resumable upload retry.
func IncUploadRetry() {
	if UploadRetries != nil {
		UploadRetries.Inc()
	}
}

// SetActiveUploads records the number of uploads in flight.
func SetActiveUploads(n int) {
	if ActiveUploadsGauge != nil {
		ActiveUploadsGauge.Set(float64(n))
	}
}

// SetQueueDepth records the number of jobs waiting for a slot.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetPendingSaves records the number of scheduled autosave writes.
func SetPendingSaves(n int) {
	if PendingSavesGauge != nil {
		PendingSavesGauge.Set(float64(n))
	}
}

// RecordAI counts one AI call.
func RecordAI(op string, err error) {
	if AIRequests != nil {
		AIRequests.WithLabelValues(op, outcome(err)).Inc()
	}
}

// RecordCacheLookup counts a search cache hit or miss.
func RecordCacheLookup(hit bool) {
	if SearchCacheLookups == nil {
		return
	}
	if hit {
		SearchCacheLookups.WithLabelValues("hit").Inc()
	} else {
		SearchCacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordTokenRefresh counts one OAuth refresh attempt.
func RecordTokenRefresh(err error) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(outcome(err)).Inc()
	}
}

// RecordAutosave counts one debounced write.
func RecordAutosave(field string, err error) {
	if AutosaveWrites != nil {
		AutosaveWrites.WithLabelValues(field, outcome(err)).Inc()
	}
}

// RecordHTTP counts a finished request. route should be the mux pattern, not the raw path.
func RecordHTTP(method, route string, code int, d time.Duration) {
	if HTTPRequests == nil {
		return
	}
	HTTPRequests.WithLabelValues(method, route, statusClass(code)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
