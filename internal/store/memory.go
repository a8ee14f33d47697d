package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store used by unit tests. All maps are guarded by
// a single RWMutex; identifiers are assigned sequentially.
type Memory struct {
	mu         sync.RWMutex
	stations   map[uint]*Station
	devices    map[uint]*Device
	rules      map[string]*AnomalyRule
	statuses   map[uint]*DeviceStatus
	seen       map[measurementKey]struct{}
	nextID     uint
	Logs       []SystemLog
	Detections []AnomalyDetection
	Readings   []Measurement
}

type measurementKey struct {
	deviceID  uint
	timestamp int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		stations: make(map[uint]*Station),
		devices:  make(map[uint]*Device),
		rules:    make(map[string]*AnomalyRule),
		statuses: make(map[uint]*DeviceStatus),
		seen:     make(map[measurementKey]struct{}),
		nextID:   1,
	}
}

// AddStation seeds a station and returns its assigned id.
func (m *Memory) AddStation(s Station) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.nextID
		m.nextID++
	}
	m.stations[s.ID] = &s
	return s.ID
}

// AddDevice seeds a device and returns its assigned id.
func (m *Memory) AddDevice(d Device) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		d.ID = m.nextID
		m.nextID++
	}
	m.devices[d.ID] = &d
	return d.ID
}

// AddRule seeds an anomaly rule.
func (m *Memory) AddRule(r AnomalyRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		r.ID = m.nextID
		m.nextID++
	}
	m.rules[r.Pollutant] = &r
}

// GetDevice returns the device with the given id.
func (m *Memory) GetDevice(_ context.Context, id uint) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// GetStationByCode returns the station with the given code.
func (m *Memory) GetStationByCode(_ context.Context, code string) (*Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.stations {
		if s.Code == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// GetStation returns the station with the given id.
func (m *Memory) GetStation(_ context.Context, id uint) (*Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// ListDevices returns a copy of all devices.
func (m *Memory) ListDevices(_ context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out, nil
}

// ListStations returns a copy of all stations.
func (m *Memory) ListStations(_ context.Context) ([]Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Station, 0, len(m.stations))
	for _, s := range m.stations {
		out = append(out, *s)
	}
	return out, nil
}

// GetEnabledRule returns the enabled rule for a pollutant.
func (m *Memory) GetEnabledRule(_ context.Context, pollutant string) (*AnomalyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[pollutant]
	if !ok || !r.IsEnabled {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// CreateMeasurement stores a measurement, rejecting duplicates.
func (m *Memory) CreateMeasurement(_ context.Context, meas *Measurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := measurementKey{deviceID: meas.DeviceID, timestamp: meas.Timestamp.UnixNano()}
	if _, dup := m.seen[key]; dup {
		return ErrDuplicateMeasurement
	}
	m.seen[key] = struct{}{}
	meas.ID = m.nextID
	m.nextID++
	m.Readings = append(m.Readings, *meas)
	return nil
}

// CreateDetection stores an anomaly detection record.
func (m *Memory) CreateDetection(_ context.Context, d *AnomalyDetection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Status == "" {
		d.Status = "pending"
	}
	d.ID = m.nextID
	m.nextID++
	m.Detections = append(m.Detections, *d)
	return nil
}

// UpsertDeviceStatus creates or updates the status record for a device.
func (m *Memory) UpsertDeviceStatus(_ context.Context, deviceID uint, upd StatusUpdate) (*DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[deviceID]
	if !ok {
		status = &DeviceStatus{ID: m.nextID, DeviceID: deviceID}
		m.nextID++
		m.statuses[deviceID] = status
	}
	status.BatteryPercent = upd.BatteryPercent
	status.SignalRSSIdBm = upd.SignalRSSIdBm
	status.UptimeSeconds = upd.UptimeSeconds
	if upd.LastResetAt != nil {
		status.LastResetAt = upd.LastResetAt
	}
	status.UpdatedAt = time.Now().UTC()
	cp := *status
	return &cp, nil
}

// GetDeviceStatus returns the status record for a device.
func (m *Memory) GetDeviceStatus(_ context.Context, deviceID uint) (*DeviceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// SetDeviceActive flips the active flag if it holds the opposite value.
func (m *Memory) SetDeviceActive(_ context.Context, deviceID uint, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok || d.IsActive == active {
		return false, nil
	}
	d.IsActive = active
	return true, nil
}

// SetStationActive flips the station active flag.
func (m *Memory) SetStationActive(_ context.Context, stationID uint, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[stationID]
	if !ok || s.IsActive == active {
		return false, nil
	}
	s.IsActive = active
	return true, nil
}

// AppendLog stores a system log entry.
func (m *Memory) AppendLog(_ context.Context, entry *SystemLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.ID = m.nextID
	m.nextID++
	m.Logs = append(m.Logs, *entry)
	return nil
}

// LatestDeviceActivity returns the later of measurement and log recency.
func (m *Memory) LatestDeviceActivity(_ context.Context, deviceID uint) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *time.Time
	for i := range m.Readings {
		if m.Readings[i].DeviceID == deviceID {
			t := m.Readings[i].Timestamp
			if latest == nil || t.After(*latest) {
				latest = &t
			}
		}
	}
	for i := range m.Logs {
		if m.Logs[i].DeviceID != nil && *m.Logs[i].DeviceID == deviceID {
			t := m.Logs[i].Timestamp
			if latest == nil || t.After(*latest) {
				latest = &t
			}
		}
	}
	return latest, nil
}

// LatestStationActivity returns the most recent station-tagged log time.
func (m *Memory) LatestStationActivity(_ context.Context, stationID uint) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *time.Time
	for i := range m.Logs {
		if m.Logs[i].StationID != nil && *m.Logs[i].StationID == stationID {
			t := m.Logs[i].Timestamp
			if latest == nil || t.After(*latest) {
				latest = &t
			}
		}
	}
	return latest, nil
}

// LogsOfType returns stored log entries matching an event type.
func (m *Memory) LogsOfType(eventType string) []SystemLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SystemLog
	for _, l := range m.Logs {
		if l.EventType == eventType {
			out = append(out, l)
		}
	}
	return out
}

// DeviceStatusFor returns the stored status record for a device, if any.
func (m *Memory) DeviceStatusFor(deviceID uint) *DeviceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[deviceID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}
