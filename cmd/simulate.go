package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"airlab.dev/pollution-core/pkg/broker"
	"airlab.dev/pollution-core/pkg/simulator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the traffic simulator",
	Long: `Run the simulator that:
- Creates a fleet of synthetic monitoring stations
- Publishes pollutant measurements with occasional anomalous spikes
- Publishes device status reports and station heartbeats`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	// Simulator-specific flags
	simulateCmd.Flags().String("mqtt-host", "localhost", "MQTT broker host")
	simulateCmd.Flags().Int("mqtt-port", 1883, "MQTT broker port")
	simulateCmd.Flags().Int("station-count", 3, "Number of simulated stations")
	simulateCmd.Flags().Duration("interval", 5*time.Second, "Interval between measurement readings")
	simulateCmd.Flags().Int("status-every", 6, "Measurement ticks between status reports")

	// Bind flags to viper
	_ = viper.BindPFlag("simulate.mqtt.host", simulateCmd.Flags().Lookup("mqtt-host"))
	_ = viper.BindPFlag("simulate.mqtt.port", simulateCmd.Flags().Lookup("mqtt-port"))
	_ = viper.BindPFlag("simulate.station_count", simulateCmd.Flags().Lookup("station-count"))
	_ = viper.BindPFlag("simulate.interval", simulateCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulate.status_every", simulateCmd.Flags().Lookup("status-every"))
}

func runSimulate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting simulator")

	config := &simulator.ServerConfig{
		Logger: logger,
		Broker: &broker.Config{
			Logger:   logger.With(slog.String("component", "broker")),
			Host:     viper.GetString("simulate.mqtt.host"),
			Port:     viper.GetInt("simulate.mqtt.port"),
			ClientID: "pollution-core-simulator",
		},
		StationCount: viper.GetInt("simulate.station_count"),
		Interval:     viper.GetDuration("simulate.interval"),
		StatusEvery:  viper.GetInt("simulate.status_every"),
	}

	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	logger.Info("simulator configuration",
		"mqtt_host", config.Broker.Host,
		"mqtt_port", config.Broker.Port,
		"station_count", config.StationCount,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}
