package sidecar

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for both sidecar surfaces.
type Metrics struct {
	RequestsTotal  *prometheus.CounterVec
	EventsTotal    *prometheus.CounterVec
	FramesRejected prometheus.Counter
	Throttled      prometheus.Counter
	IpcClients     prometheus.Gauge
	WsClients      prometheus.Gauge
	ChannelsActive prometheus.Gauge
}

// InitMetrics registers the sidecar collectors under namespace. Re-running
// against an already populated registry hands back the existing collectors,
// which keeps repeated construction in tests harmless.
func InitMetrics(namespace string) *Metrics {
	register := func(c prometheus.Collector) prometheus.Collector {
		if err := prometheus.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector
			}
			return c
		}
		return c
	}

	m := &Metrics{}

	m.RequestsTotal = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sidecar_requests_total",
		Help:      "IPC requests handled, labelled by method and outcome",
	}, []string{"method", "outcome"})).(*prometheus.CounterVec)

	m.EventsTotal = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sidecar_events_total",
		Help:      "Events fanned out to websocket clients, labelled by channel kind",
	}, []string{"kind"})).(*prometheus.CounterVec)

	m.FramesRejected = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sidecar_frames_rejected_total",
		Help:      "Frames dropped for exceeding the size limit or failing to parse",
	})).(prometheus.Counter)

	m.Throttled = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sidecar_requests_throttled_total",
		Help:      "Requests rejected by the per-client rate limit",
	})).(prometheus.Counter)

	m.IpcClients = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sidecar_ipc_clients",
		Help:      "Currently connected IPC clients",
	})).(prometheus.Gauge)

	m.WsClients = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sidecar_ws_clients",
		Help:      "Currently connected websocket clients",
	})).(prometheus.Gauge)

	m.ChannelsActive = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sidecar_channels_active",
		Help:      "Channels with at least one subscriber",
	})).(prometheus.Gauge)

	return m
}
