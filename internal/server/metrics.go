package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msalah0e/valence/internal/layout"
	"github.com/msalah0e/valence/internal/session"
)

const namespace = "valence"

// Metrics holds the server's collectors on a private registry, so several
// servers can coexist in one process (as in tests).
type Metrics struct {
	registry *prometheus.Registry

	Ticks        prometheus.Counter
	Alpha        prometheus.Gauge
	Nodes        prometheus.Gauge
	Links        prometheus.Gauge
	Clients      prometheus.Gauge
	Saves        *prometheus.CounterVec
	SaveDuration prometheus.Histogram
	Requests     *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_ticks_total",
			Help:      "Total number of simulation ticks.",
		}),
		Alpha: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layout_alpha",
			Help:      "Current simulation temperature.",
		}),
		Nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Number of nodes in the map.",
		}),
		Links: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_links",
			Help:      "Number of links in the map.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients.",
		}),
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_saves_total",
			Help:      "Session saves by result.",
		}, []string{"result"}),
		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_save_duration_seconds",
			Help:      "Session save latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(m.Ticks, m.Alpha, m.Nodes, m.Links, m.Clients, m.Saves, m.SaveDuration, m.Requests)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFrame records a layout tick.
func (m *Metrics) ObserveFrame(f layout.Frame) {
	m.Ticks.Inc()
	m.Alpha.Set(f.Alpha)
	m.Nodes.Set(float64(len(f.Nodes)))
	m.Links.Set(float64(len(f.Links)))
}

// ObserveSave records a session save attempt.
func (m *Metrics) ObserveSave(r session.SaveResult) {
	result := "ok"
	if r.Err != nil {
		result = "error"
	}
	m.Saves.WithLabelValues(result).Inc()
	m.SaveDuration.Observe(r.Elapsed.Seconds())
}
