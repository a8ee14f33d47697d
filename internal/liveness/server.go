package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/store"
	"airlab.dev/pollution-core/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

// ServerConfig holds the configuration for the sweep process.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// Sweep schedule
	Interval time.Duration
	Timeout  time.Duration

	// Listen addresses
	FanoutListen  string
	MetricsListen string
}

// Server is the sweep process: the periodic liveness pass plus its own
// fan-out endpoint for subscribers interested in transition events.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	db        *store.DB
	hub       *fanout.Hub
	fanoutSrv *fanout.Server
	metricSrv *http.Server
}

// NewServer validates the configuration and returns a Server.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}
	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}
	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}
	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}
	return &Server{logger: cfg.Logger, config: cfg}, nil
}

// Run starts the sweep process and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting liveness sweep service")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	db, err := store.NewDB(&store.DBConfig{
		Logger:   s.logger,
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	s.hub = fanout.NewHub(s.logger, metrics.NewFanoutMetrics("pollution_core"))
	go s.hub.Run()

	errChan := make(chan error, 2)

	if s.config.FanoutListen != "" {
		fanoutSrv, err := fanout.NewServer(&fanout.ServerConfig{
			Logger: s.logger,
			Hub:    s.hub,
			Listen: s.config.FanoutListen,
		})
		if err != nil {
			return fmt.Errorf("failed to create fan-out server: %w", err)
		}
		s.fanoutSrv = fanoutSrv
		go func() {
			if err := fanoutSrv.Start(); err != nil {
				errChan <- err
			}
		}()
	}

	if s.config.MetricsListen != "" {
		s.metricSrv = &http.Server{
			Addr:              s.config.MetricsListen,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.logger.Info("starting metrics server", "address", s.config.MetricsListen)
			if err := s.metricSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	sweep, err := NewSweep(&SweepConfig{
		Logger:    s.logger,
		Store:     db,
		Publisher: s.hub,
		Metrics:   metrics.NewLivenessMetrics("pollution_core"),
		Interval:  s.config.Interval,
		Timeout:   s.config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create sweep: %w", err)
	}

	sweepDone := make(chan struct{})
	go func() {
		sweep.Run(ctx)
		close(sweepDone)
	}()

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-errChan:
		s.logger.Error("server error", "error", err)
		cancel()
		<-sweepDone
		s.shutdown()
		return err
	}

	<-sweepDone
	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	s.logger.Info("shutting down liveness sweep service")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.fanoutSrv != nil {
		if err := s.fanoutSrv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to stop fan-out server", "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Stop()
	}

	if s.metricSrv != nil {
		if err := s.metricSrv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to stop metrics server", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}

	s.logger.Info("liveness sweep service shutdown complete")
}
