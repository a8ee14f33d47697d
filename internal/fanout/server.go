package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// Server exposes the websocket subscription endpoints that attach external
// real-time clients to hub groups.
type Server struct {
	logger   *slog.Logger
	hub      *Hub
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// ServerConfig holds the configuration for the fan-out server.
type ServerConfig struct {
	Logger *slog.Logger
	Hub    *Hub
	Listen string
}

// NewServer creates the websocket subscription server.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Hub == nil {
		return nil, errors.New("hub cannot be nil")
	}
	if cfg.Listen == "" {
		return nil, errors.New("listen address cannot be empty")
	}

	s := &Server{
		logger: cfg.Logger,
		hub:    cfg.Hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The real-time layer fronts this service; origin policy
			// is enforced there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/devices/{id}", s.subscribeHandler(DeviceGroup))
	mux.HandleFunc("GET /ws/stations/{id}", s.subscribeHandler(StationGroup))

	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// Start begins serving websocket subscriptions. It returns once the
// listener stops; ListenAndServe errors other than graceful close are
// returned to the caller.
func (s *Server) Start() error {
	s.logger.Info("starting fan-out server", "address", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("fan-out server error: %w", err)
	}
	return nil
}

// Handler exposes the subscription mux for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping fan-out server")
	return s.httpSrv.Shutdown(ctx)
}

// subscribeHandler upgrades the connection and attaches it to the group
// derived from the path id.
func (s *Server) subscribeHandler(group func(uint) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := NewClient(s.hub, conn, group(uint(id)), s.logger)
		go client.WritePump()
		go client.ReadPump()
	}
}
