package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DBConfig holds the database configuration.
type DBConfig struct {
	Logger   *slog.Logger
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

// DB is the PostgreSQL-backed Store implementation.
type DB struct {
	gorm   *gorm.DB
	logger *slog.Logger
}

var _ Store = (*DB)(nil)

// NewDB creates a new database connection, runs migrations and returns the
// Store implementation backed by it.
func NewDB(cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("database config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	cfg.Logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"dbname", cfg.DBName,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // slog carries the logs
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	gdb, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cfg.Logger.Info("database connection established")

	if err := runMigrations(gdb, cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{gorm: gdb, logger: cfg.Logger}, nil
}

// runMigrations runs database migrations for all models.
func runMigrations(db *gorm.DB, logger *slog.Logger) error {
	logger.Info("running database migrations")

	if err := db.AutoMigrate(
		&Station{},
		&Device{},
		&Measurement{},
		&AnomalyRule{},
		&AnomalyDetection{},
		&DeviceStatus{},
		&SystemLog{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	logger.Info("database migrations completed successfully")
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	db.logger.Info("closing database connection")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// Gorm exposes the underlying handle for integration tests and seeding.
func (db *DB) Gorm() *gorm.DB {
	return db.gorm
}

// GetDevice returns the device with the given id.
func (db *DB) GetDevice(ctx context.Context, id uint) (*Device, error) {
	var device Device
	err := db.gorm.WithContext(ctx).First(&device, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device %d: %w", id, err)
	}
	return &device, nil
}

// GetStationByCode returns the station with the given code.
func (db *DB) GetStationByCode(ctx context.Context, code string) (*Station, error) {
	var station Station
	err := db.gorm.WithContext(ctx).Where("code = ?", code).First(&station).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load station %q: %w", code, err)
	}
	return &station, nil
}

// GetStation returns the station with the given id.
func (db *DB) GetStation(ctx context.Context, id uint) (*Station, error) {
	var station Station
	err := db.gorm.WithContext(ctx).First(&station, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load station %d: %w", id, err)
	}
	return &station, nil
}

// ListDevices returns all devices.
func (db *DB) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := db.gorm.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// ListStations returns all stations.
func (db *DB) ListStations(ctx context.Context) ([]Station, error) {
	var stations []Station
	if err := db.gorm.WithContext(ctx).Order("id").Find(&stations).Error; err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	return stations, nil
}

// GetEnabledRule returns the enabled rule for a pollutant.
func (db *DB) GetEnabledRule(ctx context.Context, pollutant string) (*AnomalyRule, error) {
	var rule AnomalyRule
	err := db.gorm.WithContext(ctx).
		Where("pollutant = ? AND is_enabled = ?", pollutant, true).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule for %q: %w", pollutant, err)
	}
	return &rule, nil
}

// CreateMeasurement inserts a measurement. The composite unique index on
// (device_id, timestamp) plus ON CONFLICT DO NOTHING makes retransmissions
// idempotent; a duplicate surfaces as ErrDuplicateMeasurement.
func (db *DB) CreateMeasurement(ctx context.Context, m *Measurement) error {
	result := db.gorm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "timestamp"}},
			DoNothing: true,
		}).
		Create(m)
	if result.Error != nil {
		return fmt.Errorf("failed to create measurement: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateMeasurement
	}
	return nil
}

// CreateDetection inserts an anomaly detection record.
func (db *DB) CreateDetection(ctx context.Context, d *AnomalyDetection) error {
	if d.Status == "" {
		d.Status = "pending"
	}
	if err := db.gorm.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create detection: %w", err)
	}
	return nil
}

// UpsertDeviceStatus creates or updates the status record for a device.
func (db *DB) UpsertDeviceStatus(ctx context.Context, deviceID uint, upd StatusUpdate) (*DeviceStatus, error) {
	status := DeviceStatus{
		DeviceID:       deviceID,
		BatteryPercent: upd.BatteryPercent,
		SignalRSSIdBm:  upd.SignalRSSIdBm,
		UptimeSeconds:  upd.UptimeSeconds,
		LastResetAt:    upd.LastResetAt,
	}

	assignments := map[string]any{
		"battery_percent": upd.BatteryPercent,
		"signal_rssi_dbm": upd.SignalRSSIdBm,
		"uptime_seconds":  upd.UptimeSeconds,
	}
	if upd.LastResetAt != nil {
		assignments["last_reset_at"] = upd.LastResetAt
	}

	err := db.gorm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(&status).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device status: %w", err)
	}

	var stored DeviceStatus
	if err := db.gorm.WithContext(ctx).Where("device_id = ?", deviceID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to reload device status: %w", err)
	}
	return &stored, nil
}

// GetDeviceStatus returns the status record for a device.
func (db *DB) GetDeviceStatus(ctx context.Context, deviceID uint) (*DeviceStatus, error) {
	var status DeviceStatus
	err := db.gorm.WithContext(ctx).Where("device_id = ?", deviceID).First(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device status: %w", err)
	}
	return &status, nil
}

// SetDeviceActive flips the active flag with a compare-and-set so a stale
// reader cannot clobber a concurrent flip from the other path.
func (db *DB) SetDeviceActive(ctx context.Context, deviceID uint, active bool) (bool, error) {
	result := db.gorm.WithContext(ctx).
		Model(&Device{}).
		Where("id = ? AND is_active = ?", deviceID, !active).
		Update("is_active", active)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update device active flag: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetStationActive is the station counterpart of SetDeviceActive.
func (db *DB) SetStationActive(ctx context.Context, stationID uint, active bool) (bool, error) {
	result := db.gorm.WithContext(ctx).
		Model(&Station{}).
		Where("id = ? AND is_active = ?", stationID, !active).
		Update("is_active", active)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update station active flag: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AppendLog inserts a system log entry.
func (db *DB) AppendLog(ctx context.Context, entry *SystemLog) error {
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	if err := db.gorm.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append system log: %w", err)
	}
	return nil
}

// LatestDeviceActivity returns the later of the most recent measurement
// and the most recent log entry for the device.
func (db *DB) LatestDeviceActivity(ctx context.Context, deviceID uint) (*time.Time, error) {
	var latestMeasurement *time.Time
	err := db.gorm.WithContext(ctx).
		Model(&Measurement{}).
		Where("device_id = ?", deviceID).
		Select("MAX(timestamp)").
		Scan(&latestMeasurement).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query latest measurement: %w", err)
	}

	var latestLog *time.Time
	err = db.gorm.WithContext(ctx).
		Model(&SystemLog{}).
		Where("device_id = ?", deviceID).
		Select("MAX(timestamp)").
		Scan(&latestLog).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query latest device log: %w", err)
	}

	return laterOf(latestMeasurement, latestLog), nil
}

// LatestStationActivity returns the most recent station-tagged log time.
func (db *DB) LatestStationActivity(ctx context.Context, stationID uint) (*time.Time, error) {
	var latest *time.Time
	err := db.gorm.WithContext(ctx).
		Model(&SystemLog{}).
		Where("station_id = ?", stationID).
		Select("MAX(timestamp)").
		Scan(&latest).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query latest station log: %w", err)
	}
	return latest, nil
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}
