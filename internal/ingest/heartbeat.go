package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/store"
)

// handleHeartbeat records a station keep-alive. The heartbeat carries no
// business decision; it produces one log entry and a broadcast, and its
// recency keeps the station active in the liveness sweep.
func (r *Router) handleHeartbeat(ctx context.Context, stationCode string) error {
	station, err := r.store.GetStationByCode(ctx, stationCode)
	if errors.Is(err, store.ErrNotFound) {
		r.reject("unknown_station", "station not found for heartbeat", "station_code", stationCode)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve station %q: %w", stationCode, err)
	}

	stationID := station.ID
	entry := store.SystemLog{
		EventType: store.EventStationHeartbeat,
		Message:   fmt.Sprintf("Station %s is online (heartbeat)", station.Code),
		Level:     store.LevelInfo,
		StationID: &stationID,
		Timestamp: time.Now().UTC(),
	}
	if err := r.store.AppendLog(ctx, &entry); err != nil {
		return fmt.Errorf("failed to append heartbeat log: %w", err)
	}

	r.publisher.Publish(fanout.StationGroup(station.ID), fanout.LogEvent(&entry))

	r.logger.Debug("processed station heartbeat", "station_code", station.Code)
	return nil
}
