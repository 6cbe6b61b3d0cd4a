package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the client and relay export. A zero
// registerer leaves them unregistered, which is what tests want.
type Metrics struct {
	Dials             prometheus.Counter
	ReconnectsPlanned prometheus.Counter
	FramesSent        prometheus.Counter
	FramesReceived    prometheus.Counter
	EventsQueued      prometheus.Counter
	PendingDropped    prometheus.Counter
	PendingDepth      prometheus.Gauge

	DecodeErrors      prometheus.Counter
	EventsDispatched  *prometheus.CounterVec
	EventsIgnored     prometheus.Counter
	StaleHistory      prometheus.Counter
	CollaboratorFails *prometheus.CounterVec

	RelayEvents  *prometheus.CounterVec
	RelayClients prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_session_dials_total",
			Help: "Connection attempts made by the transport session.",
		}),
		ReconnectsPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_session_reconnects_scheduled_total",
			Help: "Reconnect timers armed after a dropped or failed connection.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_session_frames_sent_total",
			Help: "Envelopes written to the socket.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_session_frames_received_total",
			Help: "Frames read from the socket.",
		}),
		EventsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_session_events_queued_total",
			Help: "Envelopes accepted by Send.",
		}),
		PendingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_session_pending_dropped_total",
			Help: "Queued envelopes discarded because the identity was cleared.",
		}),
		PendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_session_pending_depth",
			Help: "Envelopes waiting for an open connection.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_codec_decode_errors_total",
			Help: "Frames discarded because they failed structural validation.",
		}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_engine_events_dispatched_total",
			Help: "Envelopes applied to client state, by tag.",
		}, []string{"type"}),
		EventsIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_engine_events_ignored_total",
			Help: "Envelopes with a tag no handler is registered for.",
		}),
		StaleHistory: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_engine_stale_history_total",
			Help: "History responses discarded because a newer load superseded them.",
		}),
		CollaboratorFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_engine_collaborator_failures_total",
			Help: "REST collaborator calls that failed, by operation.",
		}, []string{"op"}),
		RelayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_events_total",
			Help: "Envelopes handled by the relay, by tag.",
		}, []string{"type"}),
		RelayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_relay_clients",
			Help: "Websocket clients connected to this relay instance.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Dials, m.ReconnectsPlanned, m.FramesSent, m.FramesReceived,
			m.EventsQueued, m.PendingDropped, m.PendingDepth,
			m.DecodeErrors, m.EventsDispatched, m.EventsIgnored, m.StaleHistory,
			m.CollaboratorFails, m.RelayEvents, m.RelayClients,
		)
	}
	return m
}
