package anomaly_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airlab.dev/pollution-core/internal/anomaly"
	"airlab.dev/pollution-core/internal/store"
)

var _ = Describe("Evaluator", func() {
	var (
		ctx       context.Context
		logger    *slog.Logger
		mem       *store.Memory
		evaluator *anomaly.Evaluator
		deviceID  uint
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		mem = store.NewMemory()

		stationID := mem.AddStation(store.Station{Code: "WAW421", IsActive: true})
		deviceID = mem.AddDevice(store.Device{Pollutant: "PM25", StationID: stationID, IsActive: true})
		mem.AddRule(store.AnomalyRule{
			Pollutant:         "PM25",
			IsEnabled:         true,
			WarningThreshold:  50,
			CriticalThreshold: 100,
		})

		var err error
		evaluator, err = anomaly.NewEvaluator(logger, mem, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewEvaluator", func() {
		It("should return error when logger is nil", func() {
			_, err := anomaly.NewEvaluator(nil, mem, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger cannot be nil"))
		})

		It("should return error when store is nil", func() {
			_, err := anomaly.NewEvaluator(logger, nil, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("store cannot be nil"))
		})
	})

	Describe("Evaluate", func() {
		DescribeTable("threshold classification",
			func(value float64, wantAnomaly bool, wantSeverity string) {
				result, err := evaluator.Evaluate(ctx, anomaly.Job{
					DeviceID:  deviceID,
					Value:     value,
					Timestamp: time.Now().UTC(),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.IsAnomaly).To(Equal(wantAnomaly))
				Expect(result.Severity).To(Equal(wantSeverity))
			},
			Entry("below warning threshold", 49.99, false, ""),
			Entry("equal to warning threshold", 50.0, false, ""),
			Entry("just above warning threshold", 50.01, true, store.SeverityWarning),
			Entry("equal to critical threshold", 100.0, true, store.SeverityWarning),
			Entry("just above critical threshold", 100.01, true, store.SeverityCritical),
			Entry("far above critical threshold", 500.0, true, store.SeverityCritical),
		)

		It("should record a pending detection for an anomalous value", func() {
			detectedAt := time.Now().UTC()
			result, err := evaluator.Evaluate(ctx, anomaly.Job{
				DeviceID:  deviceID,
				Value:     120,
				Timestamp: detectedAt,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsAnomaly).To(BeTrue())
			Expect(result.DetectionID).NotTo(BeZero())

			Expect(mem.Detections).To(HaveLen(1))
			detection := mem.Detections[0]
			Expect(detection.Status).To(Equal("pending"))
			Expect(detection.Severity).To(Equal(store.SeverityCritical))
			Expect(detection.DeviceID).To(Equal(deviceID))
			Expect(detection.Value).To(Equal(120.0))
			Expect(detection.DetectedAt.Equal(detectedAt)).To(BeTrue())
			Expect(detection.Description).To(ContainSubstring("CRITICAL"))
			Expect(detection.Description).To(ContainSubstring("PM25"))
		})

		It("should not record a detection for a normal value", func() {
			result, err := evaluator.Evaluate(ctx, anomaly.Job{
				DeviceID:  deviceID,
				Value:     10,
				Timestamp: time.Now().UTC(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsAnomaly).To(BeFalse())
			Expect(mem.Detections).To(BeEmpty())
		})

		It("should treat an unknown device as a non-anomalous outcome", func() {
			result, err := evaluator.Evaluate(ctx, anomaly.Job{
				DeviceID:  999,
				Value:     120,
				Timestamp: time.Now().UTC(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsAnomaly).To(BeFalse())
			Expect(result.Message).To(ContainSubstring("not found"))
			Expect(mem.Detections).To(BeEmpty())
		})

		It("should treat a missing rule as a non-anomalous outcome", func() {
			noRuleID := mem.AddDevice(store.Device{Pollutant: "O3", IsActive: true})

			result, err := evaluator.Evaluate(ctx, anomaly.Job{
				DeviceID:  noRuleID,
				Value:     9999,
				Timestamp: time.Now().UTC(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsAnomaly).To(BeFalse())
			Expect(mem.Detections).To(BeEmpty())
		})

		It("should treat a disabled rule as a missing rule", func() {
			mem.AddRule(store.AnomalyRule{
				Pollutant:         "NO2",
				IsEnabled:         false,
				WarningThreshold:  10,
				CriticalThreshold: 20,
			})
			disabledID := mem.AddDevice(store.Device{Pollutant: "NO2", IsActive: true})

			result, err := evaluator.Evaluate(ctx, anomaly.Job{
				DeviceID:  disabledID,
				Value:     9999,
				Timestamp: time.Now().UTC(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsAnomaly).To(BeFalse())
			Expect(mem.Detections).To(BeEmpty())
		})
	})
})
