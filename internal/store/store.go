package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateMeasurement is returned when a measurement with the same
	// (device, timestamp) pair already exists. Callers treat it as a
	// benign no-op, not a failure.
	ErrDuplicateMeasurement = errors.New("store: duplicate measurement")
)

// StatusUpdate carries the fields upserted into a DeviceStatus record.
type StatusUpdate struct {
	BatteryPercent int
	SignalRSSIdBm  int
	UptimeSeconds  int64
	LastResetAt    *time.Time
}

// Store is the durable-store contract consumed by the router, the anomaly
// evaluator and the liveness tracker. The PostgreSQL implementation is DB;
// tests use Memory.
type Store interface {
	// GetDevice returns the device with the given id, or ErrNotFound.
	GetDevice(ctx context.Context, id uint) (*Device, error)

	// GetStationByCode returns the station with the given code, or ErrNotFound.
	GetStationByCode(ctx context.Context, code string) (*Station, error)

	// GetStation returns the station with the given id, or ErrNotFound.
	GetStation(ctx context.Context, id uint) (*Station, error)

	// ListDevices returns all devices.
	ListDevices(ctx context.Context) ([]Device, error)

	// ListStations returns all stations.
	ListStations(ctx context.Context) ([]Station, error)

	// GetEnabledRule returns the enabled rule for a pollutant, or
	// ErrNotFound when no enabled rule exists.
	GetEnabledRule(ctx context.Context, pollutant string) (*AnomalyRule, error)

	// CreateMeasurement inserts a measurement, returning
	// ErrDuplicateMeasurement when the (device, timestamp) pair exists.
	CreateMeasurement(ctx context.Context, m *Measurement) error

	// CreateDetection inserts an anomaly detection record.
	CreateDetection(ctx context.Context, d *AnomalyDetection) error

	// UpsertDeviceStatus creates or updates the status record for a device
	// and returns the stored row.
	UpsertDeviceStatus(ctx context.Context, deviceID uint, upd StatusUpdate) (*DeviceStatus, error)

	// GetDeviceStatus returns the status record for a device, or
	// ErrNotFound when none has been recorded yet.
	GetDeviceStatus(ctx context.Context, deviceID uint) (*DeviceStatus, error)

	// SetDeviceActive flips a device's active flag only if it currently
	// holds the opposite value. Returns true when the flip was applied,
	// false when another writer got there first or the flag already held
	// the requested value.
	SetDeviceActive(ctx context.Context, deviceID uint, active bool) (bool, error)

	// SetStationActive is the station counterpart of SetDeviceActive.
	SetStationActive(ctx context.Context, stationID uint, active bool) (bool, error)

	// AppendLog inserts a system log entry.
	AppendLog(ctx context.Context, entry *SystemLog) error

	// LatestDeviceActivity returns the later of the device's most recent
	// measurement time and most recent log time. The returned pointer is
	// nil when the device has no recorded activity.
	LatestDeviceActivity(ctx context.Context, deviceID uint) (*time.Time, error)

	// LatestStationActivity returns the timestamp of the most recent log
	// entry tagged with the station, or nil when there is none.
	LatestStationActivity(ctx context.Context, stationID uint) (*time.Time, error)
}
