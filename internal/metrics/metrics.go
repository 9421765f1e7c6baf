// Package metrics defines the Prometheus instruments exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wirestatus"

// Metrics groups every server instrument. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsAccepted prometheus.Counter
	sessionDrops     *prometheus.CounterVec
	framesSent       prometheus.Counter
	framesReceived   prometheus.Counter
	eventsBroadcast  *prometheus.CounterVec
	eventsFiltered   prometheus.Counter
	settingsReloads  prometheus.Counter
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected client sessions",
		}),
		sessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		sessionDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_drops_total",
			Help:      "Total number of dropped sessions by fault kind",
		}, []string{"kind"}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames queued to clients, heartbeats included",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of non-empty frames decoded from clients",
		}),
		eventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_broadcast_total",
			Help:      "Total number of events that passed the filter by type",
		}, []string{"type"}),
		eventsFiltered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_filtered_total",
			Help:      "Total number of events rejected by the filter",
		}),
		settingsReloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_reloads_total",
			Help:      "Total number of settings snapshots installed",
		}),
	}
}

func (m *Metrics) SessionAccepted() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionDropped(kind string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionDrops.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) EventBroadcast(typ string) {
	if m == nil {
		return
	}
	m.eventsBroadcast.WithLabelValues(typ).Inc()
}

func (m *Metrics) EventFiltered() {
	if m == nil {
		return
	}
	m.eventsFiltered.Inc()
}

func (m *Metrics) SettingsReloaded() {
	if m == nil {
		return
	}
	m.settingsReloads.Inc()
}
