// Package store provides the durable persistence layer for stations,
// devices, measurements, detection rules and system logs, backed by
// PostgreSQL through GORM. An in-memory implementation of the same Store
// interface is provided for tests.
package store

import (
	"time"
)

// Severity levels used by AnomalyDetection records.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SystemLog levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// SystemLog event types emitted by the core.
const (
	EventDeviceStatus     = "DEVICE_STATUS"
	EventBatteryCritical  = "BATTERY_CRITICAL"
	EventDeviceOnline     = "DEVICE_ONLINE"
	EventDeviceOffline    = "DEVICE_OFFLINE"
	EventDeviceReset      = "DEVICE_RESET"
	EventStationHeartbeat = "STATION_HEARTBEAT"
	EventStationOnline    = "STATION_ONLINE"
	EventStationOffline   = "STATION_OFFLINE"
	EventEvalDeadLetter   = "EVAL_DEAD_LETTER"
)

// Station represents a physical monitoring site hosting one or more devices.
type Station struct {
	Code      string    `gorm:"uniqueIndex;not null"`
	Owner     string    ``
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	Devices   []Device  `gorm:"foreignKey:StationID"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for Station model.
func (Station) TableName() string {
	return "stations"
}

// Device represents a single sensor instrument measuring one pollutant.
// A device always belongs to exactly one station and one pollutant.
type Device struct {
	SerialNumber string    `gorm:"uniqueIndex"`
	Pollutant    string    `gorm:"index;not null"`
	IsActive     bool      `gorm:"not null;default:true"`
	StationID    uint      `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
	ID           uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for Device model.
func (Device) TableName() string {
	return "devices"
}

// Measurement is an immutable telemetry reading. At most one measurement
// may exist per (device, timestamp) pair; duplicate submissions are
// rejected by the store, not overwritten.
type Measurement struct {
	Timestamp time.Time `gorm:"uniqueIndex:idx_device_time;index:idx_time;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	DeviceID  uint      `gorm:"uniqueIndex:idx_device_time;not null"`
	Value     float64   `gorm:"not null"`
	Unit      string    `gorm:"size:15;not null"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for Measurement model.
func (Measurement) TableName() string {
	return "measurements"
}

// AnomalyRule holds per-pollutant classification thresholds. The
// sudden-change fields are carried for the configuration surface but are
// not evaluated by the detection logic.
type AnomalyRule struct {
	Pollutant           string    `gorm:"uniqueIndex;not null"`
	IsEnabled           bool      `gorm:"not null;default:true"`
	WarningThreshold    float64   `gorm:"not null"`
	CriticalThreshold   float64   `gorm:"not null"`
	SuddenChangePercent float64   ``
	SuddenChangeMinutes int       ``
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
	ID                  uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for AnomalyRule model.
func (AnomalyRule) TableName() string {
	return "anomaly_rules"
}

// AnomalyDetection records a measurement that breached a rule threshold.
// The core only ever creates detections with status "pending"; review
// transitions happen in an external workflow.
type AnomalyDetection struct {
	Description string    `gorm:"size:255;not null"`
	DetectedAt  time.Time `gorm:"index;not null"`
	Severity    string    `gorm:"size:20;not null"`
	Status      string    `gorm:"size:50;not null;default:pending"`
	Value       float64   `gorm:"not null"`
	DeviceID    uint      `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	ID          uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for AnomalyDetection model.
func (AnomalyDetection) TableName() string {
	return "anomaly_detections"
}

// DeviceStatus is the mutable per-device health record, upserted on every
// status message and reset command.
type DeviceStatus struct {
	BatteryPercent int       `gorm:"column:battery_percent;not null;default:100"`
	SignalRSSIdBm  int       `gorm:"column:signal_rssi_dbm;not null;default:-50"`
	UptimeSeconds  int64     `gorm:"column:uptime_seconds;not null;default:0"`
	LastResetAt    *time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
	DeviceID       uint      `gorm:"uniqueIndex;not null"`
	ID             uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for DeviceStatus model.
func (DeviceStatus) TableName() string {
	return "device_statuses"
}

// SystemLog is an append-only audit record. Every state transition in the
// core writes exactly one entry; the entry is also what gets broadcast to
// fan-out subscribers.
type SystemLog struct {
	EventType string    `gorm:"size:50;index;not null"`
	Message   string    `gorm:"type:text;not null"`
	Level     string    `gorm:"size:20;not null;default:info"`
	DeviceID  *uint     `gorm:"index"`
	StationID *uint     `gorm:"index"`
	Timestamp time.Time `gorm:"index;autoCreateTime"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for SystemLog model.
func (SystemLog) TableName() string {
	return "system_logs"
}
