package ingest

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

	"airlab.dev/pollution-core/internal/anomaly"
	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/liveness"
	"airlab.dev/pollution-core/internal/store"
	"airlab.dev/pollution-core/pkg/broker"
	"airlab.dev/pollution-core/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

// ServerConfig holds the configuration for the router process.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// Broker configuration
	BrokerHost     string
	BrokerPort     int
	BrokerClientID string
	TopicFilter    string

	// Evaluation pool configuration
	Workers   int
	QueueSize int

	// Listen addresses
	FanoutListen  string
	MetricsListen string
}

// Server is the router process: broker receive loop, handlers, anomaly
// worker pool, fan-out hub and metrics endpoint.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	db        *store.DB
	brokerCli *broker.Client
	hub       *fanout.Hub
	fanoutSrv *fanout.Server
	pool      *anomaly.Pool
	router    *Router
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
	if cfg.BrokerHost == "" {
		return nil, errors.New("broker host cannot be empty")
	}
	if cfg.BrokerPort <= 0 {
		return nil, errors.New("broker port must be positive")
	}
	if cfg.TopicFilter == "" {
		cfg.TopicFilter = "sensors/#"
	}

	return &Server{logger: cfg.Logger, config: cfg}, nil
}

// Run starts the router process and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting telemetry router")

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

	brokerCli, err := broker.Connect(&broker.Config{
		Logger:   s.logger,
		Host:     s.config.BrokerHost,
		Port:     s.config.BrokerPort,
		ClientID: s.config.BrokerClientID,
		Metrics:  metrics.NewBrokerMetrics("pollution_core"),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	s.brokerCli = brokerCli

	s.hub = fanout.NewHub(s.logger, metrics.NewFanoutMetrics("pollution_core"))
	go s.hub.Run()

	fanoutSrv, err := fanout.NewServer(&fanout.ServerConfig{
		Logger: s.logger,
		Hub:    s.hub,
		Listen: s.config.FanoutListen,
	})
	if err != nil {
		return fmt.Errorf("failed to create fan-out server: %w", err)
	}
	s.fanoutSrv = fanoutSrv

	pool, err := anomaly.NewPool(&anomaly.PoolConfig{
		Logger:    s.logger,
		Store:     db,
		Metrics:   metrics.NewAnomalyMetrics("pollution_core"),
		Workers:   s.config.Workers,
		QueueSize: s.config.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create evaluation pool: %w", err)
	}
	s.pool = pool

	tracker, err := liveness.NewTracker(&liveness.TrackerConfig{
		Logger:    s.logger,
		Store:     db,
		Publisher: s.hub,
		Broker:    brokerCli,
		Metrics:   metrics.NewLivenessMetrics("pollution_core"),
	})
	if err != nil {
		return fmt.Errorf("failed to create liveness tracker: %w", err)
	}

	router, err := NewRouter(&RouterConfig{
		Logger:    s.logger,
		Store:     db,
		Pool:      pool,
		Tracker:   tracker,
		Publisher: s.hub,
		Metrics:   metrics.NewIngestMetrics("pollution_core"),
	})
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	s.router = router

	if err := brokerCli.Subscribe(s.config.TopicFilter, router.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	errChan := make(chan error, 2)
	go func() {
		if err := s.fanoutSrv.Start(); err != nil {
			errChan <- err
		}
	}()

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

	s.logger.Info("telemetry router started",
		"broker", fmt.Sprintf("%s:%d", s.config.BrokerHost, s.config.BrokerPort),
		"topic_filter", s.config.TopicFilter,
		"fanout_listen", s.config.FanoutListen,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-errChan:
		s.logger.Error("server error", "error", err)
		s.shutdown()
		return err
	}

	s.shutdown()
	return nil
}

// shutdown stops accepting new work, drains in-flight handlers and
// releases the transport and store connections.
func (s *Server) shutdown() {
	s.logger.Info("shutting down telemetry router")

	if s.brokerCli != nil {
		if err := s.brokerCli.Unsubscribe(s.config.TopicFilter); err != nil {
			s.logger.Error("failed to unsubscribe", "error", err)
		}
	}

	if s.pool != nil {
		s.pool.Stop()
	}

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

	if s.brokerCli != nil {
		s.brokerCli.Disconnect()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}

	s.logger.Info("telemetry router shutdown complete")
}
