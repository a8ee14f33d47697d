package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"airlab.dev/pollution-core/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the telemetry ingest server",
	Long: `Run the ingest server that:
- Subscribes to sensor topics on the MQTT broker
- Persists measurements to PostgreSQL
- Evaluates measurements against anomaly rules asynchronously
- Tracks device status and battery levels
- Fans events out to websocket subscribers`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	// Ingest-specific flags
	ingestCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	ingestCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	ingestCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	ingestCmd.Flags().String("db-password", "", "PostgreSQL password")
	ingestCmd.Flags().String("db-name", "pollution", "PostgreSQL database name")
	ingestCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	ingestCmd.Flags().String("mqtt-host", "localhost", "MQTT broker host")
	ingestCmd.Flags().Int("mqtt-port", 1883, "MQTT broker port")
	ingestCmd.Flags().String("topic-filter", "sensors/#", "MQTT topic filter to subscribe to")
	ingestCmd.Flags().Int("eval-workers", 3, "Number of anomaly evaluation workers")
	ingestCmd.Flags().Int("eval-queue-size", 256, "Anomaly evaluation queue capacity")
	ingestCmd.Flags().String("ws-listen", ":8080", "Websocket server listen address")
	ingestCmd.Flags().String("metrics-listen", ":9091", "Metrics server listen address")

	// Bind flags to viper
	_ = viper.BindPFlag("ingest.db.host", ingestCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("ingest.db.port", ingestCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("ingest.db.user", ingestCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("ingest.db.password", ingestCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("ingest.db.name", ingestCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("ingest.db.sslmode", ingestCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("ingest.mqtt.host", ingestCmd.Flags().Lookup("mqtt-host"))
	_ = viper.BindPFlag("ingest.mqtt.port", ingestCmd.Flags().Lookup("mqtt-port"))
	_ = viper.BindPFlag("ingest.mqtt.topic_filter", ingestCmd.Flags().Lookup("topic-filter"))
	_ = viper.BindPFlag("ingest.eval.workers", ingestCmd.Flags().Lookup("eval-workers"))
	_ = viper.BindPFlag("ingest.eval.queue_size", ingestCmd.Flags().Lookup("eval-queue-size"))
	_ = viper.BindPFlag("ingest.ws.listen", ingestCmd.Flags().Lookup("ws-listen"))
	_ = viper.BindPFlag("ingest.metrics.listen", ingestCmd.Flags().Lookup("metrics-listen"))
}

func runIngest(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting ingest service")

	// Create ingest configuration from viper
	config := &ingest.ServerConfig{
		Logger:         logger,
		DBHost:         viper.GetString("ingest.db.host"),
		DBPort:         viper.GetInt("ingest.db.port"),
		DBUser:         viper.GetString("ingest.db.user"),
		DBPassword:     viper.GetString("ingest.db.password"),
		DBName:         viper.GetString("ingest.db.name"),
		DBSSLMode:      viper.GetString("ingest.db.sslmode"),
		BrokerHost:     viper.GetString("ingest.mqtt.host"),
		BrokerPort:     viper.GetInt("ingest.mqtt.port"),
		BrokerClientID: "pollution-core-ingest",
		TopicFilter:    viper.GetString("ingest.mqtt.topic_filter"),
		Workers:        viper.GetInt("ingest.eval.workers"),
		QueueSize:      viper.GetInt("ingest.eval.queue_size"),
		FanoutListen:   viper.GetString("ingest.ws.listen"),
		MetricsListen:  viper.GetString("ingest.metrics.listen"),
	}

	// Create and run server
	server, err := ingest.NewServer(config)
	if err != nil {
		logger.Error("failed to create ingest server", "error", err)
		return err
	}

	logger.Info("ingest server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"mqtt_host", config.BrokerHost,
		"mqtt_port", config.BrokerPort,
		"topic_filter", config.TopicFilter,
		"ws_listen", config.FanoutListen,
		"metrics_listen", config.MetricsListen,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("ingest server error", "error", err)
		return err
	}

	logger.Info("ingest server stopped")
	return nil
}
