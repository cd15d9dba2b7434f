package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors of the runtime.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	invocationsTotal   *prometheus.CounterVec
	coldStartsTotal    prometheus.Counter
	warmStartsTotal    prometheus.Counter
	initErrorsTotal    *prometheus.CounterVec
	controlPlaneTotal  *prometheus.CounterVec
	streamedBytesTotal prometheus.Counter
	logFramesTotal     *prometheus.CounterVec

	// Histograms
	invocationDuration   *prometheus.HistogramVec
	controlPlaneDuration *prometheus.HistogramVec

	// Gauges
	uptime            prometheus.GaugeFunc
	activeInvocations prometheus.Gauge
}

// Default histogram buckets for invocation duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var (
	promMu      sync.RWMutex
	promMetrics *PrometheusMetrics
)

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	started := time.Now()
	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of handled invocations",
			},
			[]string{"handler", "mode", "status"},
		),

		coldStartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cold_starts_total",
				Help:      "Invocations that were the first of the process",
			},
		),

		warmStartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warm_starts_total",
				Help:      "Invocations handled by an already initialized process",
			},
		),

		initErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "init_errors_total",
				Help:      "Errors reported before the first invocation",
			},
			[]string{"error_type"},
		),

		controlPlaneTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "control_plane_requests_total",
				Help:      "Requests sent to the runtime control plane",
			},
			[]string{"operation", "status"},
		),

		streamedBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streamed_bytes_total",
				Help:      "Bytes written to streaming responses",
			},
		),

		logFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_records_total",
				Help:      "Function log records by level",
			},
			[]string{"level"},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Time from receiving an invocation to reporting it, in milliseconds",
				Buckets:   buckets,
			},
			[]string{"handler", "mode", "cold_start"},
		),

		controlPlaneDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "control_plane_duration_milliseconds",
				Help:      "Latency of control plane requests, in milliseconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		activeInvocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_invocations",
				Help:      "Invocations currently being handled",
			},
		),
	}
	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the runtime started",
		},
		func() float64 { return time.Since(started).Seconds() },
	)

	registry.MustRegister(
		pm.invocationsTotal,
		pm.coldStartsTotal,
		pm.warmStartsTotal,
		pm.initErrorsTotal,
		pm.controlPlaneTotal,
		pm.streamedBytesTotal,
		pm.logFramesTotal,
		pm.invocationDuration,
		pm.controlPlaneDuration,
		pm.uptime,
		pm.activeInvocations,
	)

	promMu.Lock()
	promMetrics = pm
	promMu.Unlock()
}

func current() *PrometheusMetrics {
	promMu.RLock()
	defer promMu.RUnlock()
	return promMetrics
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// RecordPrometheusInvocation records a finished invocation.
func RecordPrometheusInvocation(handler, mode string, durationMs int64, coldStart bool, success bool) {
	pm := current()
	if pm == nil {
		return
	}

	status := "success"
	if !success {
		status = "failed"
	}
	pm.invocationsTotal.WithLabelValues(handler, mode, status).Inc()

	if coldStart {
		pm.coldStartsTotal.Inc()
	} else {
		pm.warmStartsTotal.Inc()
	}
	pm.invocationDuration.WithLabelValues(handler, mode, boolLabel(coldStart)).Observe(float64(durationMs))
}

// RecordInitError counts an init error by type.
func RecordInitError(errorType string) {
	if pm := current(); pm != nil {
		pm.initErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// RecordControlPlaneRequest records one control plane round trip.
func RecordControlPlaneRequest(operation string, d time.Duration, err error) {
	pm := current()
	if pm == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	pm.controlPlaneTotal.WithLabelValues(operation, status).Inc()
	pm.controlPlaneDuration.WithLabelValues(operation).Observe(float64(d.Microseconds()) / 1000)
}

// AddStreamedBytes counts bytes written to streaming responses.
func AddStreamedBytes(n int) {
	if pm := current(); pm != nil && n > 0 {
		pm.streamedBytesTotal.Add(float64(n))
	}
}

// RecordLogRecord counts a function log record by level.
func RecordLogRecord(level string) {
	if pm := current(); pm != nil {
		pm.logFramesTotal.WithLabelValues(level).Inc()
	}
}

// IncActiveInvocations increments the active invocations gauge.
func IncActiveInvocations() {
	if pm := current(); pm != nil {
		pm.activeInvocations.Inc()
	}
}

// DecActiveInvocations decrements the active invocations gauge.
func DecActiveInvocations() {
	if pm := current(); pm != nil {
		pm.activeInvocations.Dec()
	}
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	pm := current()
	if pm == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	pm := current()
	if pm == nil {
		return nil
	}
	return pm.registry
}
