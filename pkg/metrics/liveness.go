package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LivenessMetrics contains Prometheus metrics for the device liveness
// tracker and the periodic sweep.
type LivenessMetrics struct {
	StatusUpdates    prometheus.Counter
	BatteryShutdowns prometheus.Counter
	Resets           prometheus.Counter
	SweepRuns        prometheus.Counter
	SweepFlips       *prometheus.CounterVec
	SweepErrors      prometheus.Counter
	SweepDuration    prometheus.Histogram
}

// NewLivenessMetrics creates and registers liveness metrics.
func NewLivenessMetrics(namespace string) *LivenessMetrics {
	m := &LivenessMetrics{
		StatusUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liveness",
				Name:      "status_updates_total",
				Help:      "Total number of device status upserts",
			},
		),
		BatteryShutdowns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liveness",
				Name:      "battery_shutdowns_total",
				Help:      "Total number of devices deactivated for empty battery",
			},
		),
		Resets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liveness",
				Name:      "resets_total",
				Help:      "Total number of explicit device resets",
			},
		),
		SweepRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liveness",
				Name:      "sweep_runs_total",
				Help:      "Total number of liveness sweep passes",
			},
		),
		SweepFlips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liveness",
				Name:      "sweep_flips_total",
				Help:      "Total number of active-flag transitions applied by the sweep",
			},
			[]string{"entity", "direction"}, // device/station, online/offline
		),
		SweepErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "liveness",
				Name:      "sweep_errors_total",
				Help:      "Total number of per-entity errors during sweeps",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "liveness",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of a full sweep pass",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.StatusUpdates,
		m.BatteryShutdowns,
		m.Resets,
		m.SweepRuns,
		m.SweepFlips,
		m.SweepErrors,
		m.SweepDuration,
	)

	return m
}
