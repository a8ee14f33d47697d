package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for the telemetry router.
type IngestMetrics struct {
	MessagesTotal        *prometheus.CounterVec
	ParseFailures        *prometheus.CounterVec
	Rejections           *prometheus.CounterVec
	MeasurementsPersisted prometheus.Counter
	DuplicatesIgnored    prometheus.Counter
	HandleDuration       *prometheus.HistogramVec
}

// NewIngestMetrics creates and registers router metrics.
func NewIngestMetrics(namespace string) *IngestMetrics {
	m := &IngestMetrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "messages_total",
				Help:      "Total number of transport messages routed",
			},
			[]string{"kind"}, // measurement, status, heartbeat, unknown
		),
		ParseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "parse_failures_total",
				Help:      "Total number of dropped unparsable messages",
			},
			[]string{"reason"}, // topic, payload
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rejections_total",
				Help:      "Total number of rejected payloads",
			},
			[]string{"reason"}, // missing_fields, unknown_device, bad_timestamp
		),
		MeasurementsPersisted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "measurements_persisted_total",
				Help:      "Total number of measurements written to the store",
			},
		),
		DuplicatesIgnored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "duplicates_ignored_total",
				Help:      "Total number of duplicate measurements treated as no-ops",
			},
		),
		HandleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "handle_duration_seconds",
				Help:      "Duration of message handling",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}

	MustRegister(
		m.MessagesTotal,
		m.ParseFailures,
		m.Rejections,
		m.MeasurementsPersisted,
		m.DuplicatesIgnored,
		m.HandleDuration,
	)

	return m
}
