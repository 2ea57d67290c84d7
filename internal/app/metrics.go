package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkeye/Duet/internal/core"
)

const namespace = "duet"

// Metrics owns a private prometheus registry. All methods are no-ops on a
// nil receiver so tests can run without one.
type Metrics struct {
	reg *prometheus.Registry

	rooms    prometheus.Gauge
	members  prometheus.Gauge
	relayed  *prometheus.CounterVec
	dropped  prometheus.Counter
	rejected *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "rooms",
			Help: "Rooms with at least one member.",
		}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "members",
			Help: "Endpoints currently joined to a room.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "messages_total",
			Help: "Signaling messages accepted for fan-out, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "dropped_deliveries_total",
			Help: "Per-recipient deliveries that failed.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "rejected_total",
			Help: "Inbound frames rejected before fan-out, by reason.",
		}, []string{"reason"}),
	}
	m.reg.MustRegister(
		m.rooms, m.members, m.relayed, m.dropped, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) roomCreated() {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) roomDeleted() {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) memberJoined() {
	if m != nil {
		m.members.Inc()
	}
}

func (m *Metrics) memberLeft() {
	if m != nil {
		m.members.Dec()
	}
}

func (m *Metrics) Relayed(t core.MessageType, res core.PublishResult) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(string(t)).Inc()
	m.dropped.Add(float64(len(res.Dropped)))
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}
