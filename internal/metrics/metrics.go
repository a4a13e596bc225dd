// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "liverelay"

// Metrics holds all Prometheus metrics for the relay process.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge

	HandshakesTotal    prometheus.Counter
	HandshakeDiscarded prometheus.Counter

	AudioBytesForwarded prometheus.Counter
	TextMessagesTotal   prometheus.Counter

	EventsForwarded *prometheus.CounterVec
	EventsMuted     prometheus.Counter

	UpstreamOpenErrors prometheus.Counter
	UpstreamClosures   *prometheus.CounterVec

	AnalysisRequests *prometheus.CounterVec
	AnalysisLatency  *prometheus.HistogramVec
}

// Default is the process-wide metrics instance.
var Default = New()

// New creates and registers all relay metrics.
func New() *Metrics {
	return newWithRegisterer(prometheus.DefaultRegisterer)
}

// NewForTesting creates metrics against a private registry so parallel
// tests never collide on the default registerer.
func NewForTesting() *Metrics {
	return newWithRegisterer(prometheus.NewRegistry())
}

func newWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total client websocket connections accepted",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Currently open client websocket connections",
		}),
		HandshakesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Config handshakes accepted",
		}),
		HandshakeDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_discarded_total",
			Help:      "Messages dropped while awaiting the config handshake",
		}),
		AudioBytesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_forwarded_total",
			Help:      "Decoded audio bytes forwarded upstream",
		}),
		TextMessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "text_messages_total",
			Help:      "Client text messages forwarded upstream",
		}),
		EventsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Upstream events forwarded to clients by kind",
		}, []string{"kind"}),
		EventsMuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_muted_total",
			Help:      "Assistant events suppressed by silent-listener policy",
		}),
		UpstreamOpenErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_open_errors_total",
			Help:      "Failed upstream session opens",
		}),
		UpstreamClosures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_closures_total",
			Help:      "Upstream session terminations by cause",
		}, []string{"cause"}),
		AnalysisRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "Analysis API requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		AnalysisLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_seconds",
			Help:      "Analysis API call latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
	}
}
