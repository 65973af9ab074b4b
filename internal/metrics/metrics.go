// Package metrics exposes realtime and chat statistics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studiodesk"

type Metrics struct {
	registry *prometheus.Registry

	onlineUsers    prometheus.Gauge
	connections    prometheus.Gauge
	sessions       prometheus.Gauge
	presenceEvents *prometheus.CounterVec
	droppedFrames  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Number of identities with an online entry.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Number of open realtime connections.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_sessions",
			Help:      "Number of running chat sessions.",
		}),
		presenceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_events_total",
			Help:      "Presence registry mutations by event.",
		}, []string{"event"}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Outbound frames dropped because a connection queue was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.onlineUsers,
		m.connections,
		m.sessions,
		m.presenceEvents,
		m.droppedFrames,
	)
	return m
}

// WatchSubscriptions exports the number of live document-store queries.
func (m *Metrics) WatchSubscriptions(active func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscriptions",
			Help:      "Number of live queries not yet cancelled.",
		},
		func() float64 { return float64(active()) },
	))
}

func (m *Metrics) SetOnline(n int) {
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) PresenceEvent(event string) {
	m.presenceEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }
func (m *Metrics) SessionStarted()   { m.sessions.Inc() }
func (m *Metrics) SessionEnded()     { m.sessions.Dec() }
func (m *Metrics) FrameDropped()     { m.droppedFrames.Inc() }

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
