// Package anomaly classifies measurements against per-pollutant threshold
// rules and records detections. Evaluation runs on a bounded worker pool,
// decoupled from the ingest path, with exponential-backoff retries and a
// dead-letter record after exhausted attempts.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"airlab.dev/pollution-core/internal/store"
	"airlab.dev/pollution-core/pkg/metrics"
)

// Job is one unit of evaluation work: a measurement to classify.
type Job struct {
	DeviceID  uint
	Value     float64
	Timestamp time.Time
}

// Result is the structured outcome of an evaluation. Absence of a device
// or an enabled rule is a normal, non-anomalous result, never an error.
type Result struct {
	IsAnomaly   bool
	DetectionID uint
	Severity    string
	Message     string
}

// Evaluator classifies values against AnomalyRule thresholds.
type Evaluator struct {
	logger  *slog.Logger
	store   store.Store
	metrics *metrics.AnomalyMetrics
}

// NewEvaluator creates an Evaluator. The metrics collector may be nil.
func NewEvaluator(logger *slog.Logger, st store.Store, m *metrics.AnomalyMetrics) (*Evaluator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	return &Evaluator{logger: logger, store: st, metrics: m}, nil
}

// Evaluate resolves the device's pollutant rule and classifies the value.
// Thresholds are strict greater-than: a value equal to a threshold is not
// anomalous. Errors are reserved for store failures subject to retry.
func (e *Evaluator) Evaluate(ctx context.Context, job Job) (*Result, error) {
	device, err := e.store.GetDevice(ctx, job.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("device not found, skipping evaluation", "device_id", job.DeviceID)
		e.countOutcome("no_device")
		return &Result{Message: fmt.Sprintf("device %d not found", job.DeviceID)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device %d: %w", job.DeviceID, err)
	}

	rule, err := e.store.GetEnabledRule(ctx, device.Pollutant)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Debug("no enabled rule for pollutant", "pollutant", device.Pollutant)
		e.countOutcome("no_rule")
		return &Result{Message: fmt.Sprintf("no rule for %s", device.Pollutant)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule for %s: %w", device.Pollutant, err)
	}

	var severity, description string
	switch {
	case job.Value > rule.CriticalThreshold:
		severity = store.SeverityCritical
		description = fmt.Sprintf("CRITICAL: Value %.2f exceeds critical threshold of %.2f for %s",
			job.Value, rule.CriticalThreshold, device.Pollutant)
	case job.Value > rule.WarningThreshold:
		severity = store.SeverityWarning
		description = fmt.Sprintf("WARNING: Value %.2f exceeds warning threshold of %.2f for %s",
			job.Value, rule.WarningThreshold, device.Pollutant)
	default:
		e.countOutcome("normal")
		return &Result{Message: "value within normal range"}, nil
	}

	detection := store.AnomalyDetection{
		Description: description,
		DetectedAt:  job.Timestamp,
		Severity:    severity,
		Status:      "pending",
		Value:       job.Value,
		DeviceID:    device.ID,
	}
	if err := e.store.CreateDetection(ctx, &detection); err != nil {
		return nil, fmt.Errorf("failed to record detection: %w", err)
	}

	e.logger.Warn("anomaly detected",
		"device_id", device.ID,
		"value", job.Value,
		"severity", severity,
	)
	e.countOutcome("anomaly")
	if e.metrics != nil {
		e.metrics.Detections.WithLabelValues(severity).Inc()
	}

	return &Result{
		IsAnomaly:   true,
		DetectionID: detection.ID,
		Severity:    severity,
		Message:     description,
	}, nil
}

func (e *Evaluator) countOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.EvaluationsTotal.WithLabelValues(outcome).Inc()
	}
}
