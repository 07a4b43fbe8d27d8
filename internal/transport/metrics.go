package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds connection-level Prometheus metrics
type Metrics struct {
	connections     *prometheus.GaugeVec
	framesDropped   prometheus.Counter
	framesMalformed prometheus.Counter
	framesIn        *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_connections",
				Help: "Open connections by role",
			},
			[]string{"role"},
		),
		framesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_frames_dropped_total",
				Help: "Outbound frames dropped because a send buffer was full",
			},
		),
		framesMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_frames_malformed_total",
				Help: "Inbound frames skipped because they were not valid envelopes",
			},
		),
		framesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_frames_received_total",
				Help: "Inbound frames by event name",
			},
			[]string{"event"},
		),
	}

	reg.MustRegister(m.connections, m.framesDropped, m.framesMalformed, m.framesIn)
	return m
}
