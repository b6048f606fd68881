// Package metrics holds the Prometheus collectors of the signaling server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatcall"

// Drop reasons.
const (
	ReasonUnreachable  = "unreachable"
	ReasonBackpressure = "backpressure"
	ReasonClosed       = "closed"
	ReasonRateLimited  = "rate_limited"
	ReasonInvalid      = "invalid"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	relayed     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	connections prometheus.Gauge
	presence    prometheus.Counter
	kicked      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "relayed_total",
			Help:      "Signaling messages delivered to the target connection.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "dropped_total",
			Help:      "Signaling messages that were not delivered.",
		}, []string{"type", "reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "connections",
			Help:      "Identities currently registered.",
		}),
		presence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "broadcasts_total",
			Help:      "Presence snapshots published.",
		}),
		kicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "kicked_total",
			Help:      "Connections closed by the backpressure policy.",
		}),
	}
	m.registry.MustRegister(m.relayed, m.dropped, m.connections, m.presence, m.kicked)
	return m
}

func (m *Metrics) Relayed(msgType string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Dropped(msgType, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(msgType, reason).Inc()
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) PresenceBroadcast() {
	if m == nil {
		return
	}
	m.presence.Inc()
}

func (m *Metrics) Kicked() {
	if m == nil {
		return
	}
	m.kicked.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
