package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FanoutMetrics contains Prometheus metrics for the notification fan-out.
type FanoutMetrics struct {
	Subscribers     prometheus.Gauge
	EventsDelivered *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
}

// NewFanoutMetrics creates and registers fan-out metrics.
func NewFanoutMetrics(namespace string) *FanoutMetrics {
	m := &FanoutMetrics{
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "subscribers",
				Help:      "Number of connected subscribers",
			},
		),
		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "events_delivered_total",
				Help:      "Total number of events handed to subscriber buffers",
			},
			[]string{"group"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped before delivery",
			},
			[]string{"kind"},
		),
	}

	MustRegister(m.Subscribers, m.EventsDelivered, m.EventsDropped)

	return m
}
