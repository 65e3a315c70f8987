// Package metrics exposes prometheus collectors for the room service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "syncroom"

type Metrics struct {
	registry    *prometheus.Registry
	messages    *prometheus.CounterVec
	joinDenied  *prometheus.CounterVec
	dropped     prometheus.Counter
	reaped      prometheus.Counter
	connections prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound protocol messages by type.",
		}, []string{"type"}),
		joinDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_denied_total",
			Help:      "Rejected joins by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames not enqueued because a send queue was full or closed.",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_reaped_total",
			Help:      "Connections terminated by the liveness sweep.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Open WebSocket connections, joined or not.",
		}),
	}
	m.registry.MustRegister(m.messages, m.joinDenied, m.dropped, m.reaped, m.connections)
	return m
}

// ObserveRooms registers gauges read from the room manager at scrape time.
func (m *Metrics) ObserveRooms(rooms, members func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms in the registry.",
		}, func() float64 { return float64(rooms()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Connections attached to some room.",
		}, func() float64 { return float64(members()) }),
	)
}

func (m *Metrics) Message(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) JoinDenied(reason string) {
	if m == nil {
		return
	}
	m.joinDenied.WithLabelValues(reason).Inc()
}

func (m *Metrics) Dropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
}

func (m *Metrics) Reaped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.reaped.Add(float64(n))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
