package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"airlab.dev/pollution-core/internal/anomaly"
	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/store"
)

// handleMeasurement validates and persists one telemetry reading, then
// enqueues anomaly evaluation and broadcasts the reading. Retransmission
// of an already-stored (device, timestamp) pair is a no-op.
func (r *Router) handleMeasurement(ctx context.Context, route Route, payload []byte) error {
	var body MeasurementPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		r.dropPayload("measurement", err)
		return nil
	}

	if body.SensorID == 0 || body.Value == nil || body.Timestamp == "" {
		r.reject("missing_fields", "measurement payload missing required fields",
			"station_code", route.StationCode,
			"pollutant", route.Pollutant,
		)
		return nil
	}

	timestamp, err := ParseTimestamp(body.Timestamp)
	if err != nil {
		r.reject("bad_timestamp", "measurement has invalid timestamp",
			"device_id", body.SensorID,
			"timestamp", body.Timestamp,
		)
		return nil
	}

	if _, err := r.store.GetDevice(ctx, body.SensorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.reject("unknown_device", "device not found, skipping measurement",
				"device_id", body.SensorID,
			)
			return nil
		}
		return fmt.Errorf("failed to resolve device %d: %w", body.SensorID, err)
	}

	unit := body.Unit
	if unit == "" {
		unit = defaultUnit
	}

	measurement := store.Measurement{
		Timestamp: timestamp,
		DeviceID:  body.SensorID,
		Value:     *body.Value,
		Unit:      unit,
	}
	if err := r.store.CreateMeasurement(ctx, &measurement); err != nil {
		if errors.Is(err, store.ErrDuplicateMeasurement) {
			r.logger.Info("duplicate measurement ignored",
				"device_id", body.SensorID,
				"timestamp", timestamp,
			)
			if r.metrics != nil {
				r.metrics.DuplicatesIgnored.Inc()
			}
			return nil
		}
		return fmt.Errorf("failed to persist measurement: %w", err)
	}

	r.logger.Info("measurement saved",
		"device_id", body.SensorID,
		"value", *body.Value,
		"unit", unit,
		"timestamp", timestamp,
	)
	if r.metrics != nil {
		r.metrics.MeasurementsPersisted.Inc()
	}

	// Evaluation runs on the worker pool; ingestion never waits for it.
	r.pool.Enqueue(anomaly.Job{
		DeviceID:  body.SensorID,
		Value:     *body.Value,
		Timestamp: timestamp,
	})

	r.publisher.Publish(fanout.DeviceGroup(body.SensorID), fanout.MeasurementEvent(&measurement))
	return nil
}
