package ingest_test

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airlab.dev/pollution-core/internal/anomaly"
	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/ingest"
	"airlab.dev/pollution-core/internal/liveness"
	"airlab.dev/pollution-core/internal/store"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	groups []string
	events []fanout.Event
}

func (c *capturePublisher) Publish(group string, event fanout.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = append(c.groups, group)
	c.events = append(c.events, event)
}

func (c *capturePublisher) published() ([]string, []fanout.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.groups...), append([]fanout.Event(nil), c.events...)
}

func (c *capturePublisher) eventsOfKind(kind string) []fanout.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []fanout.Event
	for _, e := range c.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var _ = Describe("Router", func() {
	var (
		logger    *slog.Logger
		mem       *store.Memory
		pool      *anomaly.Pool
		tracker   *liveness.Tracker
		publisher *capturePublisher
		router    *ingest.Router

		stationID uint
		deviceID  uint
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError + 1,
		}))
		mem = store.NewMemory()
		publisher = &capturePublisher{}

		stationID = mem.AddStation(store.Station{Code: "WAW421", IsActive: true})
		deviceID = mem.AddDevice(store.Device{Pollutant: "PM25", StationID: stationID, IsActive: true})
		mem.AddRule(store.AnomalyRule{
			Pollutant:         "PM25",
			IsEnabled:         true,
			WarningThreshold:  50,
			CriticalThreshold: 100,
		})

		var err error
		pool, err = anomaly.NewPool(&anomaly.PoolConfig{
			Logger:  logger,
			Store:   mem,
			Workers: 1,
		})
		Expect(err).NotTo(HaveOccurred())

		tracker, err = liveness.NewTracker(&liveness.TrackerConfig{
			Logger:    logger,
			Store:     mem,
			Publisher: publisher,
		})
		Expect(err).NotTo(HaveOccurred())

		router, err = ingest.NewRouter(&ingest.RouterConfig{
			Logger:    logger,
			Store:     mem,
			Pool:      pool,
			Tracker:   tracker,
			Publisher: publisher,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		pool.Stop()
	})

	Describe("NewRouter", func() {
		It("should return error when config is nil", func() {
			_, err := ingest.NewRouter(nil)
			Expect(err).To(HaveOccurred())
		})

		It("should return error when any dependency is missing", func() {
			_, err := ingest.NewRouter(&ingest.RouterConfig{
				Logger: logger,
				Store:  mem,
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("measurement handling", func() {
		measurementTopic := "sensors/WAW421/PM25"

		It("should persist a valid measurement and broadcast it", func() {
			payload := fmt.Sprintf(`{"sensor_id": %d, "value": 42.5, "unit": "µg/m³", "timestamp": "2026-08-30T12:00:00Z"}`, deviceID)
			router.HandleMessage(measurementTopic, []byte(payload))

			Expect(mem.Readings).To(HaveLen(1))
			Expect(mem.Readings[0].Value).To(Equal(42.5))
			Expect(mem.Readings[0].DeviceID).To(Equal(deviceID))

			groups, events := publisher.published()
			Expect(groups).To(ContainElement(fanout.DeviceGroup(deviceID)))
			Expect(events[0].Kind).To(Equal(fanout.KindMeasurement))
		})

		It("should evaluate an anomalous measurement on the pool", func() {
			payload := fmt.Sprintf(`{"sensor_id": %d, "value": 150, "timestamp": "2026-08-30T12:00:00Z"}`, deviceID)
			router.HandleMessage(measurementTopic, []byte(payload))
			pool.Stop()

			Expect(mem.Detections).To(HaveLen(1))
			Expect(mem.Detections[0].Severity).To(Equal(store.SeverityCritical))
		})

		It("should apply the default unit when the payload omits it", func() {
			payload := fmt.Sprintf(`{"sensor_id": %d, "value": 10, "timestamp": "2026-08-30T12:00:00Z"}`, deviceID)
			router.HandleMessage(measurementTopic, []byte(payload))

			Expect(mem.Readings).To(HaveLen(1))
			Expect(mem.Readings[0].Unit).To(Equal("µg/m³"))
		})

		It("should accept a zero value as a real reading", func() {
			payload := fmt.Sprintf(`{"sensor_id": %d, "value": 0, "timestamp": "2026-08-30T12:00:00Z"}`, deviceID)
			router.HandleMessage(measurementTopic, []byte(payload))

			Expect(mem.Readings).To(HaveLen(1))
			Expect(mem.Readings[0].Value).To(Equal(0.0))
		})

		It("should drop a payload with missing required fields", func() {
			router.HandleMessage(measurementTopic, []byte(`{"value": 42.5}`))
			router.HandleMessage(measurementTopic, []byte(fmt.Sprintf(`{"sensor_id": %d}`, deviceID)))
			router.HandleMessage(measurementTopic, []byte(fmt.Sprintf(`{"sensor_id": %d, "value": 42.5}`, deviceID)))

			Expect(mem.Readings).To(BeEmpty())
		})

		It("should drop a payload with an invalid timestamp", func() {
			payload := fmt.Sprintf(`{"sensor_id": %d, "value": 42.5, "timestamp": "not-a-time"}`, deviceID)
			router.HandleMessage(measurementTopic, []byte(payload))

			Expect(mem.Readings).To(BeEmpty())
		})

		It("should drop a measurement for an unknown device", func() {
			payload := `{"sensor_id": 999, "value": 42.5, "timestamp": "2026-08-30T12:00:00Z"}`
			router.HandleMessage(measurementTopic, []byte(payload))

			Expect(mem.Readings).To(BeEmpty())
		})

		It("should ignore a retransmitted measurement without re-broadcasting", func() {
			payload := fmt.Sprintf(`{"sensor_id": %d, "value": 42.5, "timestamp": "2026-08-30T12:00:00Z"}`, deviceID)
			router.HandleMessage(measurementTopic, []byte(payload))
			router.HandleMessage(measurementTopic, []byte(payload))

			Expect(mem.Readings).To(HaveLen(1))
			Expect(publisher.eventsOfKind(fanout.KindMeasurement)).To(HaveLen(1))
		})
	})

	Describe("status handling", func() {
		statusTopic := "sensors/WAW421/status"

		It("should route a status payload to the liveness tracker", func() {
			payload := fmt.Sprintf(`{"sensor_id": %d, "battery_percent": 80, "signal_rssi_dbm": -60, "uptime_seconds": 3600}`, deviceID)
			router.HandleMessage(statusTopic, []byte(payload))

			status := mem.DeviceStatusFor(deviceID)
			Expect(status).NotTo(BeNil())
			Expect(status.BatteryPercent).To(Equal(80))
			Expect(status.SignalRSSIdBm).To(Equal(-60))
			Expect(status.UptimeSeconds).To(Equal(int64(3600)))
		})

		It("should fall back to boot defaults for missing fields", func() {
			payload := fmt.Sprintf(`{"sensor_id": %d}`, deviceID)
			router.HandleMessage(statusTopic, []byte(payload))

			status := mem.DeviceStatusFor(deviceID)
			Expect(status).NotTo(BeNil())
			Expect(status.BatteryPercent).To(Equal(liveness.DefaultBatteryPercent))
			Expect(status.SignalRSSIdBm).To(Equal(liveness.DefaultSignalRSSIdBm))
			Expect(status.UptimeSeconds).To(Equal(int64(liveness.DefaultUptimeSeconds)))
		})

		It("should drop a status payload without sensor_id", func() {
			router.HandleMessage(statusTopic, []byte(`{"battery_percent": 80}`))
			Expect(mem.DeviceStatusFor(deviceID)).To(BeNil())
		})
	})

	Describe("heartbeat handling", func() {
		It("should record a heartbeat log and broadcast to the station group", func() {
			router.HandleMessage("sensors/WAW421/heartbeat", []byte(`{}`))

			heartbeats := mem.LogsOfType(store.EventStationHeartbeat)
			Expect(heartbeats).To(HaveLen(1))
			Expect(heartbeats[0].StationID).NotTo(BeNil())
			Expect(*heartbeats[0].StationID).To(Equal(stationID))

			groups, events := publisher.published()
			Expect(groups).To(ContainElement(fanout.StationGroup(stationID)))
			Expect(events[0].Kind).To(Equal(fanout.KindLog))
		})

		It("should ignore a heartbeat from an unknown station", func() {
			router.HandleMessage("sensors/NOPE99/heartbeat", []byte(`{}`))
			Expect(mem.LogsOfType(store.EventStationHeartbeat)).To(BeEmpty())
		})
	})

	Describe("resilience", func() {
		It("should keep serving after malformed traffic", func() {
			router.HandleMessage("garbage", []byte("???"))
			router.HandleMessage("sensors/WAW421/PM25", []byte("not json at all"))
			router.HandleMessage("sensors/WAW421/status", []byte("{broken"))

			// A valid message afterwards is still processed.
			payload := fmt.Sprintf(`{"sensor_id": %d, "value": 42.5, "timestamp": "2026-08-30T12:00:00Z"}`, deviceID)
			router.HandleMessage("sensors/WAW421/PM25", []byte(payload))
			Expect(mem.Readings).To(HaveLen(1))
		})

		It("should ignore topics with too few segments", func() {
			router.HandleMessage("sensors/WAW421", []byte(`{}`))
			Expect(mem.Readings).To(BeEmpty())
			Expect(mem.Logs).To(BeEmpty())
		})

		DescribeTable("timestamp interpretation",
			func(timestamp string, wantUTCHour int) {
				payload := fmt.Sprintf(`{"sensor_id": %d, "value": 1, "timestamp": %q}`, deviceID, timestamp)
				router.HandleMessage("sensors/WAW421/PM25", []byte(payload))
				Expect(mem.Readings).To(HaveLen(1))
				Expect(mem.Readings[0].Timestamp.UTC().Hour()).To(Equal(wantUTCHour))
			},
			Entry("UTC timestamp", "2026-08-30T12:00:00Z", 12),
			Entry("offset timestamp", "2026-08-30T12:00:00+02:00", 10),
		)
	})
})
