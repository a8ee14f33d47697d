package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"airlab.dev/pollution-core/internal/anomaly"
	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/liveness"
	"airlab.dev/pollution-core/internal/store"
	"airlab.dev/pollution-core/pkg/metrics"
)

// RouterConfig holds the configuration for the Router.
type RouterConfig struct {
	Logger    *slog.Logger
	Store     store.Store
	Pool      *anomaly.Pool
	Tracker   *liveness.Tracker
	Publisher fanout.Publisher
	Metrics   *metrics.IngestMetrics
}

// Router decodes transport messages and dispatches them by kind. It is
// invoked serially from the broker receive loop; a malformed or failing
// message is logged and dropped so the loop keeps serving.
type Router struct {
	logger    *slog.Logger
	store     store.Store
	pool      *anomaly.Pool
	tracker   *liveness.Tracker
	publisher fanout.Publisher
	metrics   *metrics.IngestMetrics
}

// NewRouter creates a Router.
func NewRouter(cfg *RouterConfig) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("router config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Pool == nil {
		return nil, errors.New("anomaly pool cannot be nil")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("liveness tracker cannot be nil")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	return &Router{
		logger:    cfg.Logger,
		store:     cfg.Store,
		pool:      cfg.Pool,
		tracker:   cfg.Tracker,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
	}, nil
}

// HandleMessage routes one inbound message. It never returns an error and
// never panics outward: a single bad message must not terminate the
// receive loop.
func (r *Router) HandleMessage(topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling message", "topic", topic, "panic", rec)
		}
	}()

	route, ok := ParseTopic(topic)
	if !ok {
		// Fewer than three segments: not addressed to us, ignore.
		if r.metrics != nil {
			r.metrics.ParseFailures.WithLabelValues("topic").Inc()
		}
		return
	}

	start := time.Now()
	kind := route.Kind.String()
	if r.metrics != nil {
		r.metrics.MessagesTotal.WithLabelValues(kind).Inc()
		defer func() {
			r.metrics.HandleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		}()
	}

	ctx := context.Background()

	var err error
	switch route.Kind {
	case KindStatus:
		err = r.handleStatus(ctx, payload)
	case KindHeartbeat:
		err = r.handleHeartbeat(ctx, route.StationCode)
	case KindMeasurement:
		err = r.handleMeasurement(ctx, route, payload)
	default:
		r.logger.Debug("unroutable message kind", "topic", topic)
	}

	if err != nil {
		r.logger.Error("failed to handle message", "topic", topic, "kind", kind, "error", err)
	}
}

// handleStatus decodes a device status payload and hands it to the
// liveness tracker.
func (r *Router) handleStatus(ctx context.Context, payload []byte) error {
	var body StatusPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		r.dropPayload("status", err)
		return nil
	}
	if body.SensorID == 0 {
		r.reject("missing_fields", "status payload missing sensor_id")
		return nil
	}

	report := liveness.StatusReport{
		DeviceID:       body.SensorID,
		BatteryPercent: liveness.DefaultBatteryPercent,
		SignalRSSIdBm:  liveness.DefaultSignalRSSIdBm,
		UptimeSeconds:  liveness.DefaultUptimeSeconds,
	}
	if body.BatteryPercent != nil {
		report.BatteryPercent = *body.BatteryPercent
	}
	if body.SignalRSSIdBm != nil {
		report.SignalRSSIdBm = *body.SignalRSSIdBm
	}
	if body.UptimeSeconds != nil {
		report.UptimeSeconds = *body.UptimeSeconds
	}

	return r.tracker.HandleStatus(ctx, report)
}

func (r *Router) dropPayload(kind string, err error) {
	r.logger.Error("failed to parse payload, dropping message", "kind", kind, "error", err)
	if r.metrics != nil {
		r.metrics.ParseFailures.WithLabelValues("payload").Inc()
	}
}

func (r *Router) reject(reason, msg string, args ...any) {
	r.logger.Error(msg, args...)
	if r.metrics != nil {
		r.metrics.Rejections.WithLabelValues(reason).Inc()
	}
}
