package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	Peers    prometheus.Gauge
	Topics   prometheus.Gauge
	Frames   *prometheus.CounterVec
	Rejected *prometheus.CounterVec
}

// NewMetrics creates the relay collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmd",
			Name:      "connected_peers",
			Help:      "Peers currently connected to the relay",
		}),
		Topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmd",
			Name:      "active_topics",
			Help:      "Topics with at least one connected peer",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmd",
			Name:      "frames_total",
			Help:      "Frames relayed, by kind",
		}, []string{"kind"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmd",
			Name:      "rejected_joins_total",
			Help:      "Join requests refused, by reason",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.Peers, m.Topics, m.Frames, m.Rejected)
	return m
}
