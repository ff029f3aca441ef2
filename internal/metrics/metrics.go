package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Outcomes of a single recipient
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Metrics holds all Prometheus metrics for vdpress
type Metrics struct {
	// Batch processing
	RecipientsProcessedTotal *prometheus.CounterVec
	CodeFallbacksTotal       prometheus.Counter
	BatchesActive            prometheus.Gauge
	BatchDurationSeconds     *prometheus.HistogramVec
	RenderDurationSeconds    *prometheus.HistogramVec
	ArtifactsUploadedTotal   *prometheus.CounterVec

	// Tracking
	TrackingScansTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RecipientsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdpress_recipients_processed_total",
				Help: "Total number of recipients processed by outcome",
			},
			[]string{"outcome"},
		),
		CodeFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vdpress_code_fallbacks_total",
				Help: "Total number of tracking code slots left with their placeholder",
			},
		),
		BatchesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vdpress_batches_active",
				Help: "Number of campaign batches currently running",
			},
		),
		BatchDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vdpress_batch_duration_seconds",
				Help:    "Campaign batch duration in seconds by final status",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		RenderDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vdpress_render_duration_seconds",
				Help:    "Render call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		ArtifactsUploadedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdpress_artifacts_uploaded_total",
				Help: "Total number of stored artifacts by content kind",
			},
			[]string{"kind"},
		),

		TrackingScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdpress_tracking_scans_total",
				Help: "Total number of tracking link visits by result",
			},
			[]string{"result"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdpress_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vdpress_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdpress_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vdpress_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vdpress_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vdpress_storage_used_bytes",
				Help: "Artifact store file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.RecipientsProcessedTotal,
		m.CodeFallbacksTotal,
		m.BatchesActive,
		m.BatchDurationSeconds,
		m.RenderDurationSeconds,
		m.ArtifactsUploadedTotal,
		m.TrackingScansTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncRecipientsProcessed counts one recipient by outcome
func IncRecipientsProcessed(outcome string) {
	m := Global()
	if m != nil {
		m.RecipientsProcessedTotal.WithLabelValues(outcome).Inc()
	}
}

// AddCodeFallbacks counts code slots that kept their placeholder
func AddCodeFallbacks(n int) {
	m := Global()
	if m != nil && n > 0 {
		m.CodeFallbacksTotal.Add(float64(n))
	}
}

// BatchStarted increments the active batch gauge
func BatchStarted() {
	m := Global()
	if m != nil {
		m.BatchesActive.Inc()
	}
}

// BatchFinished decrements the active batch gauge and records the duration
func BatchFinished(status string, d time.Duration) {
	m := Global()
	if m != nil {
		m.BatchesActive.Dec()
		m.BatchDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
	}
}

// ObserveRender records one render call (pdf or preview)
func ObserveRender(kind string, d time.Duration) {
	m := Global()
	if m != nil {
		m.RenderDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// IncArtifactsUploaded counts one stored artifact
func IncArtifactsUploaded(kind string) {
	m := Global()
	if m != nil {
		m.ArtifactsUploadedTotal.WithLabelValues(kind).Inc()
	}
}

// IncTrackingScans counts one tracking link visit
func IncTrackingScans(result string) {
	m := Global()
	if m != nil {
		m.TrackingScansTotal.WithLabelValues(result).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
