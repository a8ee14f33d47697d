package ingest

import (
	"fmt"
	"time"
)

// defaultUnit is assumed when a measurement payload omits its unit.
const defaultUnit = "µg/m³"

// MeasurementPayload is the decoded body of a pollutant reading message.
// Pointer fields distinguish absent values from zero values.
type MeasurementPayload struct {
	SensorID  uint     `json:"sensor_id"`
	Value     *float64 `json:"value"`
	Unit      string   `json:"unit"`
	Timestamp string   `json:"timestamp"`
}

// StatusPayload is the decoded body of a device status message. Missing
// fields fall back to the defaults the devices report after boot.
type StatusPayload struct {
	SensorID       uint   `json:"sensor_id"`
	BatteryPercent *int   `json:"battery_percent"`
	SignalRSSIdBm  *int   `json:"signal_rssi_dbm"`
	UptimeSeconds  *int64 `json:"uptime_seconds"`
}

// ParseTimestamp parses an ISO-8601 timestamp. Offsets and the Z suffix
// are honored; a naive timestamp is interpreted in the local zone.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
