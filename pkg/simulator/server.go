package simulator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"airlab.dev/pollution-core/pkg/broker"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// Broker is the configured broker connection
	Broker *broker.Config
	// StationCount is the number of simulated stations
	StationCount int
	// Interval is the time between measurement readings per device
	Interval time.Duration
	// StatusEvery is how many measurement ticks pass between status reports
	StatusEvery int
}

// Server drives a fleet of simulated stations against a live broker.
type Server struct {
	logger   *slog.Logger
	config   *ServerConfig
	stations []*station
	wg       sync.WaitGroup
}

type station struct {
	code    string
	devices []*Device
}

var (
	errInvalidStationCount = errors.New("station count must be greater than 0")
	errInvalidInterval     = errors.New("interval must be greater than 0")
	errLoggerRequired      = errors.New("logger is required")
	errBrokerRequired      = errors.New("broker config is required")
)

// NewServer creates a simulator server. Each station gets one device per
// pollutant drawn from a random subset.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.StationCount <= 0 {
		return nil, errInvalidStationCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.Broker == nil {
		return nil, errBrokerRequired
	}

	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 6
	}

	s := &Server{
		logger: cfg.Logger,
		config: cfg,
	}

	var sensorID uint
	for range cfg.StationCount {
		code := RandomStationCode()
		st := &station{code: code}

		for pollutant := range pollutantRanges {
			// Roughly two thirds of the pollutants per station.
			if rand.Float64() < 0.33 { // #nosec G404 - weak random is acceptable for simulation
				continue
			}
			sensorID++
			st.devices = append(st.devices, NewDevice(Profile{
				StationCode: code,
				Pollutant:   pollutant,
				SensorID:    sensorID,
			}))
		}

		if len(st.devices) == 0 {
			sensorID++
			st.devices = append(st.devices, NewDevice(Profile{
				StationCode: code,
				Pollutant:   "PM25",
				SensorID:    sensorID,
			}))
		}

		s.stations = append(s.stations, st)
		s.logger.Info("created simulated station",
			"station_code", code,
			"device_count", len(st.devices),
		)
	}

	return s, nil
}

// Run starts all station loops and blocks until a shutdown signal is
// received or the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cli, err := broker.Connect(s.config.Broker)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	for _, st := range s.stations {
		s.wg.Add(1)
		go s.runStation(ctx, cli, st)
	}

	s.logger.Info("simulator started",
		"station_count", len(s.stations),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for stations to shut down...")
	s.wg.Wait()

	cli.Disconnect()
	s.logger.Info("simulator stopped")
	return nil
}

// runStation publishes measurements for every device each tick, a station
// heartbeat alongside, and device status reports every StatusEvery ticks.
func (s *Server) runStation(ctx context.Context, pub broker.Publisher, st *station) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	logger := s.logger.With(slog.String("station_code", st.code))
	logger.Info("station started")

	tick := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("station shutting down")
			return

		case now := <-ticker.C:
			tick++

			for _, dev := range st.devices {
				if err := pub.Publish(dev.MeasurementTopic(), dev.NextMeasurement(now)); err != nil {
					logger.Error("failed to publish measurement", "error", err)
					continue
				}

				if tick%s.config.StatusEvery == 0 {
					if err := pub.Publish(dev.StatusTopic(), dev.NextStatus(s.config.Interval)); err != nil {
						logger.Error("failed to publish status", "error", err)
					}
				}
			}

			if err := pub.Publish(HeartbeatTopic(st.code), HeartbeatPayload(st.code, now)); err != nil {
				logger.Error("failed to publish heartbeat", "error", err)
			}

			logger.Debug("tick published", "tick", tick)
		}
	}
}
