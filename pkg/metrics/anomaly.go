package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AnomalyMetrics contains Prometheus metrics for the anomaly evaluator.
type AnomalyMetrics struct {
	EvaluationsTotal *prometheus.CounterVec
	Detections       *prometheus.CounterVec
	Retries          prometheus.Counter
	DeadLetters      prometheus.Counter
	QueueDepth       prometheus.Gauge
	EnqueueDrops     prometheus.Counter
	EvalDuration     prometheus.Histogram
}

// NewAnomalyMetrics creates and registers evaluator metrics.
func NewAnomalyMetrics(namespace string) *AnomalyMetrics {
	m := &AnomalyMetrics{
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "anomaly",
				Name:      "evaluations_total",
				Help:      "Total number of completed anomaly evaluations",
			},
			[]string{"outcome"}, // anomaly, normal, no_rule, no_device, failed
		),
		Detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "anomaly",
				Name:      "detections_total",
				Help:      "Total number of anomaly detections created",
			},
			[]string{"severity"},
		),
		Retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "anomaly",
				Name:      "retries_total",
				Help:      "Total number of evaluation retry attempts",
			},
		),
		DeadLetters: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "anomaly",
				Name:      "dead_letters_total",
				Help:      "Total number of evaluations abandoned after exhausted retries",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "anomaly",
				Name:      "queue_depth",
				Help:      "Number of evaluation jobs waiting in the queue",
			},
		),
		EnqueueDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "anomaly",
				Name:      "enqueue_drops_total",
				Help:      "Total number of jobs dropped because the queue was full",
			},
		),
		EvalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "anomaly",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of a single evaluation attempt",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.EvaluationsTotal,
		m.Detections,
		m.Retries,
		m.DeadLetters,
		m.QueueDepth,
		m.EnqueueDrops,
		m.EvalDuration,
	)

	return m
}
