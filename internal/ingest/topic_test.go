package ingest_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airlab.dev/pollution-core/internal/ingest"
)

var _ = Describe("ParseTopic", func() {
	DescribeTable("routable topics",
		func(topic string, wantCode string, wantKind ingest.Kind, wantPollutant string) {
			route, ok := ingest.ParseTopic(topic)
			Expect(ok).To(BeTrue())
			Expect(route.StationCode).To(Equal(wantCode))
			Expect(route.Kind).To(Equal(wantKind))
			Expect(route.Pollutant).To(Equal(wantPollutant))
		},
		Entry("measurement", "sensors/WAW421/PM25", "WAW421", ingest.KindMeasurement, "PM25"),
		Entry("another pollutant", "sensors/KRK001/NO2", "KRK001", ingest.KindMeasurement, "NO2"),
		Entry("status", "sensors/WAW421/status", "WAW421", ingest.KindStatus, ""),
		Entry("heartbeat", "sensors/WAW421/heartbeat", "WAW421", ingest.KindHeartbeat, ""),
	)

	DescribeTable("unroutable topics",
		func(topic string) {
			_, ok := ingest.ParseTopic(topic)
			Expect(ok).To(BeFalse())
		},
		Entry("empty", ""),
		Entry("one segment", "sensors"),
		Entry("two segments", "sensors/WAW421"),
		Entry("empty station code", "sensors//PM25"),
		Entry("empty kind", "sensors/WAW421/"),
	)
})

var _ = Describe("Kind", func() {
	It("should render metric labels", func() {
		Expect(ingest.KindMeasurement.String()).To(Equal("measurement"))
		Expect(ingest.KindStatus.String()).To(Equal("status"))
		Expect(ingest.KindHeartbeat.String()).To(Equal("heartbeat"))
		Expect(ingest.KindUnknown.String()).To(Equal("unknown"))
	})
})

var _ = Describe("ParseTimestamp", func() {
	It("should parse an RFC3339 timestamp with offset", func() {
		ts, err := ingest.ParseTimestamp("2026-08-30T12:00:00+02:00")
		Expect(err).NotTo(HaveOccurred())
		Expect(ts.UTC().Hour()).To(Equal(10))
	})

	It("should parse a Z-suffixed timestamp", func() {
		ts, err := ingest.ParseTimestamp("2026-08-30T12:00:00Z")
		Expect(err).NotTo(HaveOccurred())
		Expect(ts.Equal(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))).To(BeTrue())
	})

	It("should interpret a naive timestamp in the local zone", func() {
		ts, err := ingest.ParseTimestamp("2026-08-30T12:00:00")
		Expect(err).NotTo(HaveOccurred())
		Expect(ts.Location()).To(Equal(time.Local))
		Expect(ts.Hour()).To(Equal(12))
	})

	It("should reject a malformed timestamp", func() {
		_, err := ingest.ParseTimestamp("yesterday at noon")
		Expect(err).To(HaveOccurred())
	})

	It("should reject an empty timestamp", func() {
		_, err := ingest.ParseTimestamp("")
		Expect(err).To(HaveOccurred())
	})
})
