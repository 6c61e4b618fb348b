// Package metrics holds the Prometheus collectors for the shop server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "creditshop"

// Metrics owns a private registry so several servers can coexist in one
// process (tests build one per app). A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	activeSessions prometheus.Gauge
	sessionsTotal  *prometheus.CounterVec
	rejectedFrames *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "economy",
				Name:      "operations_total",
				Help:      "Economy operations by kind and outcome.",
			},
			[]string{"op", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "economy",
				Name:      "operation_duration_seconds",
				Help:      "Duration of economy operations including storage.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"op"},
		),

		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "active",
				Help:      "Currently connected sessions.",
			},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "opened_total",
				Help:      "Sessions opened, by transport.",
			},
			[]string{"transport"},
		),
		rejectedFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "rejected_requests_total",
				Help:      "Requests answered with a failure before reaching the economy.",
			},
			[]string{"reason"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "route"},
		),
	}

	m.Registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.activeSessions,
		m.sessionsTotal,
		m.rejectedFrames,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordOperation counts one economy operation
func (m *Metrics) RecordOperation(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SessionOpened marks a new connection on the given transport
func (m *Metrics) SessionOpened(transport string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(transport).Inc()
	m.activeSessions.Inc()
}

// SessionClosed marks a connection as gone
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// RequestRejected counts a request refused by the session layer
func (m *Metrics) RequestRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedFrames.WithLabelValues(reason).Inc()
}

// RecordHTTP counts one HTTP request against its route template
func (m *Metrics) RecordHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
