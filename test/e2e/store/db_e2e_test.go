package store_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airlab.dev/pollution-core/internal/store"
)

// seedStation inserts a station row directly and returns its id.
func seedStation(code string, active bool) uint {
	station := store.Station{Code: code, Owner: "e2e", IsActive: active}
	Expect(db.Gorm().Create(&station).Error).NotTo(HaveOccurred())
	return station.ID
}

// seedDevice inserts a device row directly and returns its id.
func seedDevice(stationID uint, serial, pollutant string, active bool) uint {
	device := store.Device{
		SerialNumber: serial,
		Pollutant:    pollutant,
		IsActive:     active,
		StationID:    stationID,
	}
	Expect(db.Gorm().Create(&device).Error).NotTo(HaveOccurred())
	return device.ID
}

var _ = Describe("Store E2E", func() {
	var (
		ctx       context.Context
		stationID uint
		deviceID  uint
		serial    int
	)

	BeforeEach(func() {
		ctx = context.Background()
		serial++
		stationID = seedStation(fmt.Sprintf("E2E%03d", serial), true)
		deviceID = seedDevice(stationID, fmt.Sprintf("SN-%03d", serial), "PM25", true)
	})

	Describe("measurement persistence", func() {
		It("should persist a measurement and enforce the duplicate constraint", func() {
			ts := time.Now().UTC().Truncate(time.Second)

			first := store.Measurement{Timestamp: ts, DeviceID: deviceID, Value: 42.5, Unit: "µg/m³"}
			Expect(db.CreateMeasurement(ctx, &first)).To(Succeed())
			Expect(first.ID).NotTo(BeZero())

			second := store.Measurement{Timestamp: ts, DeviceID: deviceID, Value: 99, Unit: "µg/m³"}
			err := db.CreateMeasurement(ctx, &second)
			Expect(err).To(MatchError(store.ErrDuplicateMeasurement))
		})

		It("should allow the same timestamp on another device", func() {
			otherID := seedDevice(stationID, fmt.Sprintf("SN-%03d-b", serial), "NO2", true)
			ts := time.Now().UTC().Truncate(time.Second)

			Expect(db.CreateMeasurement(ctx, &store.Measurement{Timestamp: ts, DeviceID: deviceID, Value: 1, Unit: "µg/m³"})).To(Succeed())
			Expect(db.CreateMeasurement(ctx, &store.Measurement{Timestamp: ts, DeviceID: otherID, Value: 1, Unit: "µg/m³"})).To(Succeed())
		})
	})

	Describe("device and station lookups", func() {
		It("should load a device by id", func() {
			device, err := db.GetDevice(ctx, deviceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(device.Pollutant).To(Equal("PM25"))
			Expect(device.StationID).To(Equal(stationID))
		})

		It("should report not found for a missing device", func() {
			_, err := db.GetDevice(ctx, 99999)
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should load a station by code", func() {
			station, err := db.GetStationByCode(ctx, fmt.Sprintf("E2E%03d", serial))
			Expect(err).NotTo(HaveOccurred())
			Expect(station.ID).To(Equal(stationID))
		})
	})

	Describe("anomaly rules", func() {
		It("should only return enabled rules", func() {
			pollutant := fmt.Sprintf("RULE%03d", serial)
			rule := store.AnomalyRule{
				Pollutant:         pollutant,
				IsEnabled:         false,
				WarningThreshold:  50,
				CriticalThreshold: 100,
			}
			Expect(db.Gorm().Create(&rule).Error).NotTo(HaveOccurred())

			_, err := db.GetEnabledRule(ctx, pollutant)
			Expect(err).To(MatchError(store.ErrNotFound))

			Expect(db.Gorm().Model(&rule).Update("is_enabled", true).Error).NotTo(HaveOccurred())

			loaded, err := db.GetEnabledRule(ctx, pollutant)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.WarningThreshold).To(Equal(50.0))
		})
	})

	Describe("device status upsert", func() {
		It("should create then update a single status row", func() {
			first, err := db.UpsertDeviceStatus(ctx, deviceID, store.StatusUpdate{
				BatteryPercent: 80,
				SignalRSSIdBm:  -60,
				UptimeSeconds:  100,
			})
			Expect(err).NotTo(HaveOccurred())

			second, err := db.UpsertDeviceStatus(ctx, deviceID, store.StatusUpdate{
				BatteryPercent: 79,
				SignalRSSIdBm:  -61,
				UptimeSeconds:  200,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(second.ID).To(Equal(first.ID))
			Expect(second.BatteryPercent).To(Equal(79))
			Expect(second.UptimeSeconds).To(Equal(int64(200)))

			var count int64
			Expect(db.Gorm().Model(&store.DeviceStatus{}).Where("device_id = ?", deviceID).Count(&count).Error).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
		})

		It("should preserve the reset marker across plain updates", func() {
			resetAt := time.Now().UTC().Truncate(time.Second)
			_, err := db.UpsertDeviceStatus(ctx, deviceID, store.StatusUpdate{
				BatteryPercent: 100,
				SignalRSSIdBm:  -50,
				LastResetAt:    &resetAt,
			})
			Expect(err).NotTo(HaveOccurred())

			status, err := db.UpsertDeviceStatus(ctx, deviceID, store.StatusUpdate{
				BatteryPercent: 90,
				SignalRSSIdBm:  -55,
				UptimeSeconds:  60,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(status.LastResetAt).NotTo(BeNil())
			Expect(status.LastResetAt.UTC().Equal(resetAt)).To(BeTrue())
		})
	})

	Describe("active flag transitions", func() {
		It("should flip a device flag exactly once", func() {
			flipped, err := db.SetDeviceActive(ctx, deviceID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(flipped).To(BeTrue())

			flipped, err = db.SetDeviceActive(ctx, deviceID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(flipped).To(BeFalse())

			device, err := db.GetDevice(ctx, deviceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(device.IsActive).To(BeFalse())
		})

		It("should flip a station flag exactly once", func() {
			flipped, err := db.SetStationActive(ctx, stationID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(flipped).To(BeTrue())

			flipped, err = db.SetStationActive(ctx, stationID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(flipped).To(BeFalse())
		})
	})

	Describe("activity recency", func() {
		It("should report nil for a silent device", func() {
			latest, err := db.LatestDeviceActivity(ctx, deviceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).To(BeNil())
		})

		It("should return the later of measurement and log activity", func() {
			older := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
			newer := time.Now().UTC().Add(-1 * time.Hour).Truncate(time.Second)

			Expect(db.CreateMeasurement(ctx, &store.Measurement{
				Timestamp: older,
				DeviceID:  deviceID,
				Value:     10,
				Unit:      "µg/m³",
			})).To(Succeed())

			Expect(db.AppendLog(ctx, &store.SystemLog{
				EventType: store.EventDeviceStatus,
				Message:   "status",
				Level:     store.LevelInfo,
				DeviceID:  &deviceID,
				Timestamp: newer,
			})).To(Succeed())

			latest, err := db.LatestDeviceActivity(ctx, deviceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).NotTo(BeNil())
			Expect(latest.UTC().Equal(newer)).To(BeTrue())
		})

		It("should track station activity from station-tagged logs only", func() {
			latest, err := db.LatestStationActivity(ctx, stationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).To(BeNil())

			heartbeatAt := time.Now().UTC().Truncate(time.Second)
			Expect(db.AppendLog(ctx, &store.SystemLog{
				EventType: store.EventStationHeartbeat,
				Message:   "heartbeat",
				Level:     store.LevelInfo,
				StationID: &stationID,
				Timestamp: heartbeatAt,
			})).To(Succeed())

			latest, err = db.LatestStationActivity(ctx, stationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).NotTo(BeNil())
			Expect(latest.UTC().Equal(heartbeatAt)).To(BeTrue())
		})
	})

	Describe("detections and logs", func() {
		It("should persist a detection with its pending status", func() {
			detection := store.AnomalyDetection{
				Description: "CRITICAL: Value 120.00 exceeds critical threshold of 100.00 for PM25",
				DetectedAt:  time.Now().UTC().Truncate(time.Second),
				Severity:    store.SeverityCritical,
				Status:      "pending",
				Value:       120,
				DeviceID:    deviceID,
			}
			Expect(db.CreateDetection(ctx, &detection)).To(Succeed())
			Expect(detection.ID).NotTo(BeZero())

			var loaded store.AnomalyDetection
			Expect(db.Gorm().First(&loaded, detection.ID).Error).NotTo(HaveOccurred())
			Expect(loaded.Status).To(Equal("pending"))
			Expect(loaded.Severity).To(Equal(store.SeverityCritical))
		})

		It("should append a system log with defaults applied", func() {
			entry := store.SystemLog{
				EventType: store.EventDeviceReset,
				Message:   "Device reset triggered",
				Level:     store.LevelWarning,
				DeviceID:  &deviceID,
			}
			Expect(db.AppendLog(ctx, &entry)).To(Succeed())
			Expect(entry.ID).NotTo(BeZero())

			var loaded store.SystemLog
			Expect(db.Gorm().First(&loaded, entry.ID).Error).NotTo(HaveOccurred())
			Expect(loaded.EventType).To(Equal(store.EventDeviceReset))
			Expect(loaded.Timestamp).NotTo(BeZero())
		})
	})
})
