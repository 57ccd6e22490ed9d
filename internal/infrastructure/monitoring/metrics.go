package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the realtime core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsOpen    prometheus.Gauge
	Subscribers        prometheus.Gauge
	ConnectionStates   *prometheus.CounterVec
	ReconnectAttempts  prometheus.Counter
	ReconnectExhausted prometheus.Counter
	Heartbeats         prometheus.Counter

	// Frame metrics
	FramesIn        *prometheus.CounterVec
	FramesOut       *prometheus.CounterVec
	DecodeFallbacks prometheus.Counter
	ListenerPanics  prometheus.Counter

	// Conversation metrics
	ConversationsStarted prometheus.Counter
	ConversationsEnded   *prometheus.CounterVec
	ConversationDuration prometheus.Histogram
	ConversationsSwept   prometheus.Counter

	// Outbox metrics
	OutboxPending prometheus.Gauge
	OutboxRetries prometheus.Counter
	OutboxExpired prometheus.Counter
}

// NewMetrics creates a collector registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of connections currently open",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Number of subscribers attached across all connections",
		}),
		ConnectionStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_transitions_total",
			Help:      "Connection state transitions by target state",
		}, []string{"kind", "state"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts",
		}),
		ReconnectExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Connections that gave up after the attempt cap",
		}),
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat pings sent",
		}),

		FramesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Inbound frames by type",
		}, []string{"type"}),
		FramesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_out_total",
			Help:      "Outbound frames by type",
		}, []string{"type"}),
		DecodeFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_fallbacks_total",
			Help:      "Inbound payloads delivered as raw frames",
		}),
		ListenerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_panics_total",
			Help:      "Listener invocations that panicked",
		}),

		ConversationsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_started_total",
			Help:      "Conversations created",
		}),
		ConversationsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_ended_total",
			Help:      "Conversations reaching a terminal status",
		}, []string{"status"}),
		ConversationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_duration_seconds",
			Help:      "Time from creation to terminal status",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		ConversationsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_swept_total",
			Help:      "Terminal conversations garbage-collected",
		}),

		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Outbound messages awaiting acknowledgement",
		}),
		OutboxRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retries_total",
			Help:      "Outbound messages re-sent",
		}),
		OutboxExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_expired_total",
			Help:      "Outbound messages dropped without acknowledgement",
		}),
	}
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordState counts a connection state transition.
func (m *Metrics) RecordState(kind, state string) {
	if m == nil {
		return
	}
	m.ConnectionStates.WithLabelValues(kind, state).Inc()
}

// ConnectionOpened and ConnectionClosed track the open gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsOpen.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsOpen.Dec()
}

// AddSubscribers adjusts the subscriber gauge by delta.
func (m *Metrics) AddSubscribers(delta int) {
	if m == nil {
		return
	}
	m.Subscribers.Add(float64(delta))
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) RecordExhausted() {
	if m == nil {
		return
	}
	m.ReconnectExhausted.Inc()
}

func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.Heartbeats.Inc()
}

// RecordFrame counts a frame; direction is "in" or "out".
func (m *Metrics) RecordFrame(direction, frameType string) {
	if m == nil {
		return
	}
	if direction == "in" {
		m.FramesIn.WithLabelValues(frameType).Inc()
		return
	}
	m.FramesOut.WithLabelValues(frameType).Inc()
}

func (m *Metrics) RecordDecodeFallback() {
	if m == nil {
		return
	}
	m.DecodeFallbacks.Inc()
}

func (m *Metrics) RecordListenerPanic() {
	if m == nil {
		return
	}
	m.ListenerPanics.Inc()
}

func (m *Metrics) RecordConversationStarted() {
	if m == nil {
		return
	}
	m.ConversationsStarted.Inc()
}

// RecordConversationEnded counts a terminal transition and its duration.
func (m *Metrics) RecordConversationEnded(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConversationsEnded.WithLabelValues(status).Inc()
	m.ConversationDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordSwept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ConversationsSwept.Add(float64(n))
}

func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

func (m *Metrics) RecordOutboxRetry() {
	if m == nil {
		return
	}
	m.OutboxRetries.Inc()
}

func (m *Metrics) RecordOutboxExpired(n int) {
	if m == nil || n == 0 {
		return
	}
	m.OutboxExpired.Add(float64(n))
}
