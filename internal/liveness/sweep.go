package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/store"
	"airlab.dev/pollution-core/pkg/metrics"
)

const (
	// DefaultInterval is the pause between sweep passes.
	DefaultInterval = 5 * time.Minute

	// DefaultTimeout is the inactivity window after which an entity is
	// considered offline.
	DefaultTimeout = 48 * time.Hour
)

// SweepConfig holds the configuration for the liveness sweep.
type SweepConfig struct {
	Logger    *slog.Logger
	Store     store.Store
	Publisher fanout.Publisher
	Metrics   *metrics.LivenessMetrics
	Interval  time.Duration
	Timeout   time.Duration
}

// Sweep periodically recomputes device and station active flags from
// observed activity recency. One entity failing never aborts the pass.
type Sweep struct {
	logger    *slog.Logger
	store     store.Store
	publisher fanout.Publisher
	metrics   *metrics.LivenessMetrics
	interval  time.Duration
	timeout   time.Duration
}

// NewSweep creates a Sweep.
func NewSweep(cfg *SweepConfig) (*Sweep, error) {
	if cfg == nil {
		return nil, errors.New("sweep config cannot be nil")
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

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Sweep{
		logger:    cfg.Logger,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		interval:  interval,
		timeout:   timeout,
	}, nil
}

// Run executes sweep passes on the configured interval until the context
// is canceled. The first pass runs immediately.
func (s *Sweep) Run(ctx context.Context) {
	s.logger.Info("starting liveness sweep",
		"interval", s.interval.String(),
		"timeout", s.timeout.String(),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("liveness sweep stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single sweep pass over all devices and stations.
func (s *Sweep) RunOnce(ctx context.Context) {
	start := time.Now()
	threshold := start.UTC().Add(-s.timeout)

	s.sweepDevices(ctx, threshold)
	s.sweepStations(ctx, threshold)

	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
}

func (s *Sweep) sweepDevices(ctx context.Context, threshold time.Time) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		s.logger.Error("failed to list devices for sweep", "error", err)
		s.countError()
		return
	}

	for _, device := range devices {
		latest, err := s.store.LatestDeviceActivity(ctx, device.ID)
		if err != nil {
			s.logger.Error("failed to load device activity", "device_id", device.ID, "error", err)
			s.countError()
			continue
		}

		active := latest != nil && !latest.Before(threshold)
		if device.IsActive == active {
			continue
		}

		flipped, err := s.store.SetDeviceActive(ctx, device.ID, active)
		if err != nil {
			s.logger.Error("failed to flip device active flag", "device_id", device.ID, "error", err)
			s.countError()
			continue
		}
		if !flipped {
			// Another writer already applied the transition.
			continue
		}

		event := store.EventDeviceOffline
		level := store.LevelError
		direction := "offline"
		if active {
			event = store.EventDeviceOnline
			level = store.LevelInfo
			direction = "online"
		}

		s.logger.Info("device active flag changed",
			"device_id", device.ID,
			"active", active,
			"last_activity", formatActivity(latest),
		)
		if s.metrics != nil {
			s.metrics.SweepFlips.WithLabelValues("device", direction).Inc()
		}

		deviceID := device.ID
		entry := store.SystemLog{
			EventType: event,
			Message: fmt.Sprintf("Device %d is now %s (last activity: %s)",
				device.ID, stateWord(active), formatActivity(latest)),
			Level:     level,
			DeviceID:  &deviceID,
			Timestamp: time.Now().UTC(),
		}
		if err := s.store.AppendLog(ctx, &entry); err != nil {
			s.logger.Error("failed to append device transition log", "device_id", device.ID, "error", err)
			s.countError()
			continue
		}
		s.publisher.Publish(fanout.DeviceGroup(device.ID), fanout.LogEvent(&entry))
	}
}

func (s *Sweep) sweepStations(ctx context.Context, threshold time.Time) {
	stations, err := s.store.ListStations(ctx)
	if err != nil {
		s.logger.Error("failed to list stations for sweep", "error", err)
		s.countError()
		return
	}

	for _, station := range stations {
		latest, err := s.store.LatestStationActivity(ctx, station.ID)
		if err != nil {
			s.logger.Error("failed to load station activity", "station_id", station.ID, "error", err)
			s.countError()
			continue
		}

		active := latest != nil && !latest.Before(threshold)
		if station.IsActive == active {
			continue
		}

		flipped, err := s.store.SetStationActive(ctx, station.ID, active)
		if err != nil {
			s.logger.Error("failed to flip station active flag", "station_id", station.ID, "error", err)
			s.countError()
			continue
		}
		if !flipped {
			continue
		}

		event := store.EventStationOffline
		level := store.LevelError
		direction := "offline"
		if active {
			event = store.EventStationOnline
			level = store.LevelInfo
			direction = "online"
		}

		s.logger.Info("station active flag changed",
			"station_code", station.Code,
			"active", active,
			"last_activity", formatActivity(latest),
		)
		if s.metrics != nil {
			s.metrics.SweepFlips.WithLabelValues("station", direction).Inc()
		}

		stationID := station.ID
		entry := store.SystemLog{
			EventType: event,
			Message: fmt.Sprintf("Station %s is now %s (last activity: %s)",
				station.Code, stateWord(active), formatActivity(latest)),
			Level:     level,
			StationID: &stationID,
			Timestamp: time.Now().UTC(),
		}
		if err := s.store.AppendLog(ctx, &entry); err != nil {
			s.logger.Error("failed to append station transition log", "station_id", station.ID, "error", err)
			s.countError()
			continue
		}
		s.publisher.Publish(fanout.StationGroup(station.ID), fanout.LogEvent(&entry))
	}
}

func (s *Sweep) countError() {
	if s.metrics != nil {
		s.metrics.SweepErrors.Inc()
	}
}

func stateWord(active bool) string {
	if active {
		return "ACTIVE"
	}
	return "INACTIVE"
}

func formatActivity(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
