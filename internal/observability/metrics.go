// Package observability provides Prometheus metrics, health checks, and
// logging helpers for the tracking pipeline.
//
// Uses github.com/prometheus/client_golang - the official Prometheus client.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the tracking pipeline.
// Metrics are automatically registered via promauto. Components record
// through nil-guarded helpers, so a nil *Metrics disables collection.
//
// Key metrics for monitoring:
//   - commands_tracked_total: Inbound tracking rate
//   - commands_delivered_total / commands_failed_total: Delivery outcomes
//   - delivery_queue_depth: Backpressure on the delivery client
//   - circuit_breaker_open: Pre-flight gate state
type Metrics struct {
	CommandsTracked     prometheus.Counter
	CommandsDelivered   prometheus.Counter
	CommandsFailed      prometheus.Counter
	CommandsRejected    prometheus.Counter
	CommandsResurrected prometheus.Counter
	BundlesSealed       prometheus.Counter
	RequestsSent        prometheus.Counter
	DeliveryDuration    prometheus.Histogram
	QueueDepth          prometheus.Gauge
	CircuitBreakerOpen  prometheus.Gauge

	MessagesPublished *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// The namespace prefixes all metric names (e.g., "beacon_commands_tracked_total").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		CommandsTracked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_tracked_total",
			Help:      "Total number of commands admitted to the pipeline",
		}),
		CommandsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_delivered_total",
			Help:      "Total number of commands whose bundle was delivered",
		}),
		CommandsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_failed_total",
			Help:      "Total number of commands whose bundle delivery failed",
		}),
		CommandsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Total number of submissions rejected by filter rules",
		}),
		CommandsResurrected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_resurrected_total",
			Help:      "Total number of commands re-fed from a previous process run",
		}),
		BundlesSealed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_sealed_total",
			Help:      "Total number of bundles sealed by the bundler",
		}),
		RequestsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Total number of network requests attempted",
		}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of batch delivery attempts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_queue_depth",
			Help:      "Number of requests waiting in the delivery client",
		}),
		CircuitBreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "Whether the advisory circuit breaker blocks sends (0=closed, 1=open)",
		}),

		MessagesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published per topic",
		}, []string{"topic"}),
		MessagesDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages delivered per topic",
		}, []string{"topic"}),

		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and path",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records request counts and latency for the collector's
// HTTP surface.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()

			path := chi.RouteContext(r.Context()).RoutePattern()
			if path == "" {
				path = r.URL.Path
			}

			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}
