package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics contains Prometheus metrics for the MQTT client.
type BrokerMetrics struct {
	ConnectionStatus  prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	PublishFailures   *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
}

// NewBrokerMetrics creates and registers broker client metrics.
func NewBrokerMetrics(namespace string) *BrokerMetrics {
	m := &BrokerMetrics{
		ConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "connection_status",
				Help:      "Broker connection status (1 = connected, 0 = disconnected)",
			},
		),
		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of broker reconnect attempts",
			},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "publish_failures_total",
				Help:      "Total number of failed outbound publishes",
			},
			[]string{"topic"},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "messages_published_total",
				Help:      "Total number of outbound messages published",
			},
			[]string{"topic"},
		),
	}

	MustRegister(m.ConnectionStatus, m.ReconnectAttempts, m.PublishFailures, m.MessagesPublished)

	return m
}
