package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nostrmarks"

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// Metrics holds every collector exposed on /metrics.
// Each instance owns its registry, so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ConnectAttempts     *prometheus.CounterVec
	RelaysConnected     prometheus.Gauge
	ReconnectsScheduled prometheus.Counter
	ConnectionsLost     prometheus.Counter

	QueryDuration *prometheus.HistogramVec
	QueryRecords  prometheus.Counter
	RejectedSigs  prometheus.Counter

	Publishes   *prometheus.CounterVec
	BookmarkOps *prometheus.CounterVec

	HTTPRequests *prometheus.HistogramVec
}

// New builds and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connect_attempts_total",
			Help:      "Relay dial attempts by result.",
		}, []string{"result"}),
		RelaysConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connected",
			Help:      "Relays currently connected.",
		}),
		ReconnectsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect tasks scheduled after a failure.",
		}),
		ConnectionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_lost_total",
			Help:      "Live connections that dropped without being asked to.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Time spent in short-lived queries.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"result"}),
		QueryRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "records_total",
			Help:      "Distinct records returned by queries.",
		}),
		RejectedSigs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "invalid_signatures_total",
			Help:      "Records dropped because their signature did not verify.",
		}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "attempts_total",
			Help:      "Per-relay publish attempts by result.",
		}, []string{"result"}),
		BookmarkOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookmarks",
			Name:      "operations_total",
			Help:      "Bookmark operations by kind and result.",
		}, []string{"op", "result"}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP requests by method, route pattern and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ConnectAttempts,
		m.RelaysConnected,
		m.ReconnectsScheduled,
		m.ConnectionsLost,
		m.QueryDuration,
		m.QueryRecords,
		m.RejectedSigs,
		m.Publishes,
		m.BookmarkOps,
		m.HTTPRequests,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
