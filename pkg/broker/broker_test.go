package broker_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"airlab.dev/pollution-core/pkg/broker"
)

var _ = Describe("Connect", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Context("with invalid configuration", func() {
		It("should return error when config is nil", func() {
			client, err := broker.Connect(nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
			Expect(client).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			client, err := broker.Connect(&broker.Config{
				Host: "localhost",
				Port: 1883,
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger cannot be nil"))
			Expect(client).To(BeNil())
		})

		It("should return error when host is empty", func() {
			client, err := broker.Connect(&broker.Config{
				Logger: logger,
				Port:   1883,
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("host cannot be empty"))
			Expect(client).To(BeNil())
		})

		It("should return error when port is not positive", func() {
			client, err := broker.Connect(&broker.Config{
				Logger: logger,
				Host:   "localhost",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("port must be positive"))
			Expect(client).To(BeNil())
		})
	})
})
