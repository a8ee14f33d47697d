package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"airlab.dev/pollution-core/internal/fanout"
	"airlab.dev/pollution-core/internal/liveness"
	"airlab.dev/pollution-core/internal/store"
	"airlab.dev/pollution-core/pkg/broker"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset a device remotely",
	Long: `Reset a device: zero its uptime, restore battery to full, mark it
active, record the reset and publish a RESET command on the device's
station topic.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	// Reset-specific flags
	resetCmd.Flags().Uint("device-id", 0, "ID of the device to reset")
	resetCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	resetCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	resetCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	resetCmd.Flags().String("db-password", "", "PostgreSQL password")
	resetCmd.Flags().String("db-name", "pollution", "PostgreSQL database name")
	resetCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	resetCmd.Flags().String("mqtt-host", "localhost", "MQTT broker host")
	resetCmd.Flags().Int("mqtt-port", 1883, "MQTT broker port")
	_ = resetCmd.MarkFlagRequired("device-id")

	// Bind flags to viper
	_ = viper.BindPFlag("reset.device_id", resetCmd.Flags().Lookup("device-id"))
	_ = viper.BindPFlag("reset.db.host", resetCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("reset.db.port", resetCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("reset.db.user", resetCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("reset.db.password", resetCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("reset.db.name", resetCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("reset.db.sslmode", resetCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("reset.mqtt.host", resetCmd.Flags().Lookup("mqtt-host"))
	_ = viper.BindPFlag("reset.mqtt.port", resetCmd.Flags().Lookup("mqtt-port"))
}

func runReset(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	deviceID := viper.GetUint("reset.device_id")
	logger.Info("resetting device", "device_id", deviceID)

	db, err := store.NewDB(&store.DBConfig{
		Logger:   logger.With(slog.String("component", "store")),
		Host:     viper.GetString("reset.db.host"),
		Port:     viper.GetInt("reset.db.port"),
		User:     viper.GetString("reset.db.user"),
		Password: viper.GetString("reset.db.password"),
		DBName:   viper.GetString("reset.db.name"),
		SSLMode:  viper.GetString("reset.db.sslmode"),
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	brokerCli, err := broker.Connect(&broker.Config{
		Logger:   logger.With(slog.String("component", "broker")),
		Host:     viper.GetString("reset.mqtt.host"),
		Port:     viper.GetInt("reset.mqtt.port"),
		ClientID: "pollution-core-reset",
	})
	if err != nil {
		logger.Error("failed to connect to mqtt broker", "error", err)
		return err
	}
	defer brokerCli.Disconnect()

	// A one-shot command has no websocket subscribers; the hub only
	// satisfies the tracker's broadcast path.
	hub := fanout.NewHub(logger.With(slog.String("component", "fanout")), nil)
	go hub.Run()
	defer hub.Stop()

	tracker, err := liveness.NewTracker(&liveness.TrackerConfig{
		Logger:    logger.With(slog.String("component", "liveness")),
		Store:     db,
		Publisher: hub,
		Broker:    brokerCli,
	})
	if err != nil {
		logger.Error("failed to create tracker", "error", err)
		return err
	}

	if err := tracker.Reset(context.Background(), deviceID); err != nil {
		logger.Error("reset failed", "device_id", deviceID, "error", err)
		return err
	}

	logger.Info("device reset complete", "device_id", deviceID)
	return nil
}
