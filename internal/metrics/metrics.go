// Package metrics provides Prometheus metrics for the 4over6 tunnel client.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "a4over6"
)

// Metrics contains all Prometheus metrics for the client.
type Metrics struct {
	// Connection metrics
	ConnectionUp      prometheus.Gauge
	ConnectsTotal     prometheus.Counter
	ReconnectAttempts prometheus.Counter
	DisconnectsTotal  *prometheus.CounterVec

	// Data transfer metrics
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec

	// Liveness metrics
	HeartbeatsSent     prometheus.Counter
	HeartbeatsReceived prometheus.Counter
	LivenessExpiries   prometheus.Counter

	// Negotiation metrics
	NegotiateLatency prometheus.Histogram
	NegotiateErrors  prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		ConnectionUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "Whether a tunnel connection is currently established (0 or 1)",
		}),
		ConnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of tunnel connections established",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total in-epoch reconnect attempts after read timeouts",
		}),
		DisconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total tunnel disconnections by reason",
		}, []string{"reason"}),

		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent through the tunnel",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received through the tunnel",
		}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total messages sent by type",
		}, []string{"msg_type"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total messages received by type",
		}, []string{"msg_type"}),

		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeat messages sent",
		}),
		HeartbeatsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_received_total",
			Help:      "Total heartbeat messages received",
		}),
		LivenessExpiries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_expiries_total",
			Help:      "Total connections declared dead after heartbeat silence",
		}),

		NegotiateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiate_latency_seconds",
			Help:      "Histogram of address negotiation latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
		NegotiateErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiate_errors_total",
			Help:      "Total failed address negotiations",
		}),
	}

	return m
}
