// Package liveness maintains per-device health state and the active flags
// of devices and stations. Status messages from the router feed the
// synchronous path; a periodic sweep recomputes activity from store
// recency independently of any message traffic.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/store"
	"airlab.dev/pollution-core/pkg/broker"
	"airlab.dev/pollution-core/pkg/metrics"
)

// Defaults reported by devices after boot, assumed when a status payload
// omits a field.
const (
	DefaultBatteryPercent = 100
	DefaultSignalRSSIdBm  = -50
	DefaultUptimeSeconds  = 0
)

// StatusReport carries the health fields of one device status message.
type StatusReport struct {
	DeviceID       uint
	BatteryPercent int
	SignalRSSIdBm  int
	UptimeSeconds  int64
}

// TrackerConfig holds the configuration for the Tracker.
type TrackerConfig struct {
	Logger    *slog.Logger
	Store     store.Store
	Publisher fanout.Publisher
	// Broker carries outbound reset commands. It may be nil for
	// processes that never issue resets.
	Broker  broker.Publisher
	Metrics *metrics.LivenessMetrics
}

// Tracker applies device status updates, the zero-battery deactivation
// policy and the explicit reset operation.
type Tracker struct {
	logger    *slog.Logger
	store     store.Store
	publisher fanout.Publisher
	broker    broker.Publisher
	metrics   *metrics.LivenessMetrics
}

// NewTracker creates a Tracker.
func NewTracker(cfg *TrackerConfig) (*Tracker, error) {
	if cfg == nil {
		return nil, errors.New("tracker config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	return &Tracker{
		logger:    cfg.Logger,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		broker:    cfg.Broker,
		metrics:   cfg.Metrics,
	}, nil
}

// HandleStatus upserts a device's status record, applies the zero-battery
// deactivation policy, appends the routine status log and broadcasts the
// refreshed state. Log and broadcast failures are logged and do not abort
// the update.
func (t *Tracker) HandleStatus(ctx context.Context, report StatusReport) error {
	device, err := t.store.GetDevice(ctx, report.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		t.logger.Warn("device not found, skipping status update", "device_id", report.DeviceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve device %d: %w", report.DeviceID, err)
	}

	// Empty battery deactivates the device. A later nonzero battery does
	// not reactivate it; only the sweep or an explicit reset does.
	if report.BatteryPercent == 0 && device.IsActive {
		flipped, err := t.store.SetDeviceActive(ctx, device.ID, false)
		if err != nil {
			return fmt.Errorf("failed to deactivate device %d: %w", device.ID, err)
		}
		if flipped {
			t.logger.Warn("device disabled due to empty battery", "device_id", device.ID)
			if t.metrics != nil {
				t.metrics.BatteryShutdowns.Inc()
			}
			t.appendAndBroadcastDeviceLog(ctx, device.ID, &store.SystemLog{
				EventType: store.EventBatteryCritical,
				Message:   fmt.Sprintf("Device %d disabled due to empty battery (0%%)", device.ID),
				Level:     store.LevelWarning,
			})
		}
	}

	t.appendAndBroadcastDeviceLog(ctx, device.ID, &store.SystemLog{
		EventType: store.EventDeviceStatus,
		Message: fmt.Sprintf("Status update: Battery %d%%, Signal %ddBm, Uptime %ds",
			report.BatteryPercent, report.SignalRSSIdBm, report.UptimeSeconds),
		Level: store.LevelInfo,
	})

	status, err := t.store.UpsertDeviceStatus(ctx, device.ID, store.StatusUpdate{
		BatteryPercent: report.BatteryPercent,
		SignalRSSIdBm:  report.SignalRSSIdBm,
		UptimeSeconds:  report.UptimeSeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert device status: %w", err)
	}

	t.logger.Info("device status updated",
		"device_id", device.ID,
		"battery_percent", status.BatteryPercent,
		"signal_rssi_dbm", status.SignalRSSIdBm,
		"uptime_seconds", status.UptimeSeconds,
	)
	if t.metrics != nil {
		t.metrics.StatusUpdates.Inc()
	}

	t.publisher.Publish(fanout.DeviceGroup(device.ID), fanout.StatusEvent(status, false))
	return nil
}

// Reset performs the explicit device reset: uptime zeroed, battery back to
// full, device marked active, a DEVICE_RESET entry, a broadcast of the new
// state and an outbound RESET command on the device's station topic. This
// is the only core operation that publishes back toward the transport.
func (t *Tracker) Reset(ctx context.Context, deviceID uint) error {
	device, err := t.store.GetDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("failed to resolve device %d: %w", deviceID, err)
	}

	signal := DefaultSignalRSSIdBm
	if prev, err := t.store.GetDeviceStatus(ctx, deviceID); err == nil {
		signal = prev.SignalRSSIdBm
	}

	now := time.Now().UTC()
	status, err := t.store.UpsertDeviceStatus(ctx, deviceID, store.StatusUpdate{
		BatteryPercent: DefaultBatteryPercent,
		SignalRSSIdBm:  signal,
		UptimeSeconds:  0,
		LastResetAt:    &now,
	})
	if err != nil {
		return fmt.Errorf("failed to reset device status: %w", err)
	}

	if _, err := t.store.SetDeviceActive(ctx, deviceID, true); err != nil {
		return fmt.Errorf("failed to reactivate device %d: %w", deviceID, err)
	}

	t.appendAndBroadcastDeviceLog(ctx, deviceID, &store.SystemLog{
		EventType: store.EventDeviceReset,
		Message:   fmt.Sprintf("Device reset triggered for device %d", deviceID),
		Level:     store.LevelWarning,
	})

	t.publisher.Publish(fanout.DeviceGroup(deviceID), fanout.StatusEvent(status, true))

	if t.broker != nil {
		station, err := t.store.GetStation(ctx, device.StationID)
		if err != nil {
			t.logger.Error("failed to resolve station for reset command",
				"device_id", deviceID, "station_id", device.StationID, "error", err)
		} else {
			topic := fmt.Sprintf("sensors/%s/command", station.Code)
			if err := t.broker.Publish(topic, []byte(`{"command": "RESET"}`)); err != nil {
				t.logger.Error("failed to publish reset command", "topic", topic, "error", err)
			}
		}
	}

	t.logger.Info("device reset", "device_id", deviceID)
	if t.metrics != nil {
		t.metrics.Resets.Inc()
	}
	return nil
}

// appendAndBroadcastDeviceLog writes a device-tagged log entry and then
// broadcasts it as a separate step. Either failure is logged and ignored;
// losing an observability event must never block the data path.
func (t *Tracker) appendAndBroadcastDeviceLog(ctx context.Context, deviceID uint, entry *store.SystemLog) {
	entry.DeviceID = &deviceID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := t.store.AppendLog(ctx, entry); err != nil {
		t.logger.Error("failed to append system log",
			"event_type", entry.EventType, "device_id", deviceID, "error", err)
		return
	}
	t.publisher.Publish(fanout.DeviceGroup(deviceID), fanout.LogEvent(entry))
}
