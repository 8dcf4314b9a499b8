// Package metrics exposes Prometheus metrics for scans and HTTP traffic.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coramo123/mail-scanner/internal/scanning"
)

const namespace = "mail_scanner"

// Metrics holds the collectors of one server instance
type Metrics struct {
	registry *prometheus.Registry

	scansTotal      *prometheus.CounterVec
	scanErrorsTotal *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	scanDuration    prometheus.Histogram

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "total",
			Help:      "Completed scans by extraction method.",
		}, []string{"method"}),
		scanErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "errors_total",
			Help:      "Failed scans by reason.",
		}, []string{"reason"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "total",
			Help:      "Address verification outcomes by status.",
		}, []string{"status"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Time to scan one image, including verification.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		m.scansTotal,
		m.scanErrorsTotal,
		m.verifications,
		m.scanDuration,
		m.requestTotal,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveScan implements scanning.Observer
func (m *Metrics) ObserveScan(record *scanning.ScanRecord, duration time.Duration, err error) {
	m.scanDuration.Observe(duration.Seconds())
	if err != nil {
		m.scanErrorsTotal.WithLabelValues(errorReason(err)).Inc()
		return
	}
	m.scansTotal.WithLabelValues(string(record.Method)).Inc()
	m.verifications.WithLabelValues(string(record.Status)).Inc()
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, scanning.ErrNotFound):
		return "not_found"
	case errors.Is(err, scanning.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, scanning.ErrExtractionUnavailable):
		return "extraction_unavailable"
	default:
		return "other"
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency. Paths are labelled with the
// matched route pattern to keep label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.requestTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
