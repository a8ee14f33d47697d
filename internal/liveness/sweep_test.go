package liveness_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airlab.dev/pollution-core/internal/liveness"
	"airlab.dev/pollution-core/internal/store"
)

var _ = Describe("Sweep", func() {
	var (
		ctx       context.Context
		logger    *slog.Logger
		mem       *store.Memory
		publisher *capturePublisher
		sweep     *liveness.Sweep
	)

	const timeout = 48 * time.Hour

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError + 1,
		}))
		mem = store.NewMemory()
		publisher = &capturePublisher{}

		var err error
		sweep, err = liveness.NewSweep(&liveness.SweepConfig{
			Logger:    logger,
			Store:     mem,
			Publisher: publisher,
			Timeout:   timeout,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewSweep", func() {
		It("should return error when config is nil", func() {
			_, err := liveness.NewSweep(nil)
			Expect(err).To(HaveOccurred())
		})

		It("should return error when publisher is missing", func() {
			_, err := liveness.NewSweep(&liveness.SweepConfig{Logger: logger, Store: mem})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("publisher cannot be nil"))
		})
	})

	Describe("device sweep", func() {
		It("should deactivate a device whose activity is older than the timeout", func() {
			deviceID := mem.AddDevice(store.Device{Pollutant: "PM25", IsActive: true})
			stale := time.Now().UTC().Add(-timeout - time.Hour)
			Expect(mem.CreateMeasurement(ctx, &store.Measurement{
				Timestamp: stale,
				DeviceID:  deviceID,
				Value:     10,
				Unit:      "µg/m³",
			})).To(Succeed())

			sweep.RunOnce(ctx)

			device, err := mem.GetDevice(ctx, deviceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(device.IsActive).To(BeFalse())

			offline := mem.LogsOfType(store.EventDeviceOffline)
			Expect(offline).To(HaveLen(1))
			Expect(offline[0].Level).To(Equal(store.LevelError))
			Expect(offline[0].Message).To(ContainSubstring("INACTIVE"))
		})

		It("should deactivate a device that was never heard from", func() {
			deviceID := mem.AddDevice(store.Device{Pollutant: "PM25", IsActive: true})

			sweep.RunOnce(ctx)

			device, err := mem.GetDevice(ctx, deviceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(device.IsActive).To(BeFalse())

			offline := mem.LogsOfType(store.EventDeviceOffline)
			Expect(offline).To(HaveLen(1))
			Expect(offline[0].Message).To(ContainSubstring("never"))
		})

		It("should reactivate an inactive device with fresh activity", func() {
			deviceID := mem.AddDevice(store.Device{Pollutant: "PM25", IsActive: false})
			Expect(mem.CreateMeasurement(ctx, &store.Measurement{
				Timestamp: time.Now().UTC().Add(-time.Hour),
				DeviceID:  deviceID,
				Value:     10,
				Unit:      "µg/m³",
			})).To(Succeed())

			sweep.RunOnce(ctx)

			device, err := mem.GetDevice(ctx, deviceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(device.IsActive).To(BeTrue())

			online := mem.LogsOfType(store.EventDeviceOnline)
			Expect(online).To(HaveLen(1))
			Expect(online[0].Level).To(Equal(store.LevelInfo))
			Expect(online[0].Message).To(ContainSubstring("ACTIVE"))
		})

		It("should leave a device alone when its state already matches", func() {
			deviceID := mem.AddDevice(store.Device{Pollutant: "PM25", IsActive: true})
			Expect(mem.CreateMeasurement(ctx, &store.Measurement{
				Timestamp: time.Now().UTC().Add(-time.Hour),
				DeviceID:  deviceID,
				Value:     10,
				Unit:      "µg/m³",
			})).To(Succeed())

			sweep.RunOnce(ctx)

			Expect(mem.LogsOfType(store.EventDeviceOnline)).To(BeEmpty())
			Expect(mem.LogsOfType(store.EventDeviceOffline)).To(BeEmpty())
		})

		It("should count a recent device-tagged log as activity", func() {
			deviceID := mem.AddDevice(store.Device{Pollutant: "PM25", IsActive: false})
			Expect(mem.AppendLog(ctx, &store.SystemLog{
				EventType: store.EventDeviceStatus,
				Message:   "status",
				Level:     store.LevelInfo,
				DeviceID:  &deviceID,
				Timestamp: time.Now().UTC().Add(-time.Minute),
			})).To(Succeed())

			sweep.RunOnce(ctx)

			device, err := mem.GetDevice(ctx, deviceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(device.IsActive).To(BeTrue())
		})
	})

	Describe("station sweep", func() {
		It("should deactivate a station without recent station-tagged logs", func() {
			stationID := mem.AddStation(store.Station{Code: "WAW421", IsActive: true})

			sweep.RunOnce(ctx)

			station, err := mem.GetStation(ctx, stationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(station.IsActive).To(BeFalse())

			offline := mem.LogsOfType(store.EventStationOffline)
			Expect(offline).To(HaveLen(1))
			Expect(offline[0].Message).To(ContainSubstring("WAW421"))
			Expect(offline[0].StationID).NotTo(BeNil())
			Expect(*offline[0].StationID).To(Equal(stationID))
		})

		It("should reactivate a station with a recent heartbeat log", func() {
			stationID := mem.AddStation(store.Station{Code: "WAW421", IsActive: false})
			Expect(mem.AppendLog(ctx, &store.SystemLog{
				EventType: store.EventStationHeartbeat,
				Message:   "heartbeat",
				Level:     store.LevelInfo,
				StationID: &stationID,
				Timestamp: time.Now().UTC().Add(-time.Minute),
			})).To(Succeed())

			sweep.RunOnce(ctx)

			station, err := mem.GetStation(ctx, stationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(station.IsActive).To(BeTrue())
			Expect(mem.LogsOfType(store.EventStationOnline)).To(HaveLen(1))
		})

		It("should not treat device activity as station activity", func() {
			stationID := mem.AddStation(store.Station{Code: "WAW421", IsActive: true})
			deviceID := mem.AddDevice(store.Device{Pollutant: "PM25", StationID: stationID, IsActive: true})
			Expect(mem.CreateMeasurement(ctx, &store.Measurement{
				Timestamp: time.Now().UTC().Add(-time.Minute),
				DeviceID:  deviceID,
				Value:     10,
				Unit:      "µg/m³",
			})).To(Succeed())

			sweep.RunOnce(ctx)

			station, err := mem.GetStation(ctx, stationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(station.IsActive).To(BeFalse())
		})
	})

	Describe("Run", func() {
		It("should run an immediate pass and stop on cancellation", func() {
			deviceID := mem.AddDevice(store.Device{Pollutant: "PM25", IsActive: true})

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				sweep.Run(runCtx)
			}()

			Eventually(func() bool {
				device, err := mem.GetDevice(ctx, deviceID)
				return err == nil && !device.IsActive
			}).Should(BeTrue())

			cancel()
			Eventually(done).Should(BeClosed())
		})
	})
})
