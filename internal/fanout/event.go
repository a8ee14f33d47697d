// Package fanout delivers status, measurement and log events to groups of
// websocket subscribers. Groups are addressed by device or station
// identity; publishing is fire-and-forget and never surfaces an error to
// the caller.
package fanout

import (
	"fmt"
	"time"

	"airlab.dev/pollution-core/internal/store"
)

// Event kinds carried in the envelope's discriminator.
const (
	KindStatus      = "status"
	KindMeasurement = "measurement"
	KindLog         = "log"
)

// Event is the structured message delivered to subscribers. Kind
// discriminates the shape of Data across the transport boundary.
type Event struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// DeviceGroup returns the group id for a device's subscribers.
func DeviceGroup(deviceID uint) string {
	return fmt.Sprintf("device:%d", deviceID)
}

// StationGroup returns the group id for a station's subscribers.
func StationGroup(stationID uint) string {
	return fmt.Sprintf("station:%d", stationID)
}

// StatusData is the payload of a KindStatus event.
type StatusData struct {
	DeviceID       uint       `json:"device_id"`
	BatteryPercent int        `json:"battery_percent"`
	SignalRSSIdBm  int        `json:"signal_rssi_dbm"`
	UptimeSeconds  int64      `json:"uptime_seconds"`
	LastResetAt    *time.Time `json:"last_reset_at,omitempty"`
	Reset          bool       `json:"reset,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// MeasurementData is the payload of a KindMeasurement event.
type MeasurementData struct {
	DeviceID  uint      `json:"device_id"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// LogData is the payload of a KindLog event.
type LogData struct {
	ID        uint      `json:"id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	DeviceID  *uint     `json:"device_id,omitempty"`
	StationID *uint     `json:"station_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEvent wraps a stored system log entry into a broadcastable event.
func LogEvent(entry *store.SystemLog) Event {
	return Event{
		Kind: KindLog,
		Data: LogData{
			ID:        entry.ID,
			EventType: entry.EventType,
			Message:   entry.Message,
			Level:     entry.Level,
			DeviceID:  entry.DeviceID,
			StationID: entry.StationID,
			Timestamp: entry.Timestamp,
		},
	}
}

// StatusEvent wraps a stored device status into a broadcastable event.
func StatusEvent(status *store.DeviceStatus, reset bool) Event {
	return Event{
		Kind: KindStatus,
		Data: StatusData{
			DeviceID:       status.DeviceID,
			BatteryPercent: status.BatteryPercent,
			SignalRSSIdBm:  status.SignalRSSIdBm,
			UptimeSeconds:  status.UptimeSeconds,
			LastResetAt:    status.LastResetAt,
			Reset:          reset,
			UpdatedAt:      status.UpdatedAt,
		},
	}
}

// MeasurementEvent wraps a persisted measurement into a broadcastable event.
func MeasurementEvent(m *store.Measurement) Event {
	return Event{
		Kind: KindMeasurement,
		Data: MeasurementData{
			DeviceID:  m.DeviceID,
			Value:     m.Value,
			Unit:      m.Unit,
			Timestamp: m.Timestamp,
		},
	}
}

// Publisher is the send side of the fan-out contract. Publish must never
// block the data path or return an error; delivery problems are logged and
// counted, not surfaced.
type Publisher interface {
	Publish(group string, event Event)
}
