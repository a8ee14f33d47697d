package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"airlab.dev/pollution-core/internal/liveness"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the liveness sweep server",
	Long: `Run the liveness sweep server that:
- Periodically checks when each device and station was last heard from
- Marks entities inactive after the activity timeout and reactivates them on new activity
- Records online/offline transitions as system logs
- Fans transition events out to websocket subscribers`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	// Sweep-specific flags
	sweepCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	sweepCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	sweepCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	sweepCmd.Flags().String("db-password", "", "PostgreSQL password")
	sweepCmd.Flags().String("db-name", "pollution", "PostgreSQL database name")
	sweepCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	sweepCmd.Flags().Duration("interval", liveness.DefaultInterval, "Time between sweep passes")
	sweepCmd.Flags().Duration("timeout", liveness.DefaultTimeout, "Inactivity window after which an entity is marked offline")
	sweepCmd.Flags().String("ws-listen", "", "Websocket server listen address (empty disables)")
	sweepCmd.Flags().String("metrics-listen", ":9092", "Metrics server listen address")

	// Bind flags to viper
	_ = viper.BindPFlag("sweep.db.host", sweepCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("sweep.db.port", sweepCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("sweep.db.user", sweepCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("sweep.db.password", sweepCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("sweep.db.name", sweepCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("sweep.db.sslmode", sweepCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("sweep.interval", sweepCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("sweep.timeout", sweepCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("sweep.ws.listen", sweepCmd.Flags().Lookup("ws-listen"))
	_ = viper.BindPFlag("sweep.metrics.listen", sweepCmd.Flags().Lookup("metrics-listen"))
}

func runSweep(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting sweep service")

	config := &liveness.ServerConfig{
		Logger:        logger,
		DBHost:        viper.GetString("sweep.db.host"),
		DBPort:        viper.GetInt("sweep.db.port"),
		DBUser:        viper.GetString("sweep.db.user"),
		DBPassword:    viper.GetString("sweep.db.password"),
		DBName:        viper.GetString("sweep.db.name"),
		DBSSLMode:     viper.GetString("sweep.db.sslmode"),
		Interval:      viper.GetDuration("sweep.interval"),
		Timeout:       viper.GetDuration("sweep.timeout"),
		FanoutListen:  viper.GetString("sweep.ws.listen"),
		MetricsListen: viper.GetString("sweep.metrics.listen"),
	}

	if config.Interval <= 0 {
		config.Interval = liveness.DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = liveness.DefaultTimeout
	}

	server, err := liveness.NewServer(config)
	if err != nil {
		logger.Error("failed to create sweep server", "error", err)
		return err
	}

	logger.Info("sweep server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"interval", config.Interval,
		"timeout", config.Timeout,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("sweep server error", "error", err)
		return err
	}

	logger.Info("sweep server stopped")
	return nil
}
