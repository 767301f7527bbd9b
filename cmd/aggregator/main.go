package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "aggregator/cmd/aggregator/docs"
	"aggregator/internal/config"
	"aggregator/internal/constants"
	"aggregator/internal/logger"
	"aggregator/pkg/logging"
)

var (
	configFile string
)

// @title           Event Aggregator API
// @version         1.0
// @description     Idempotent at-least-once event intake with per-(topic, event_id) deduplication.

// @host      localhost:8080
// @BasePath  /

// @schemes   http

func main() {
	rootCmd := &cobra.Command{
		Use:   "aggregator",
		Short: "Idempotent event aggregator",
		Long:  "Aggregator accepts events over HTTP or Kafka, stores each (topic, event_id) once and keeps running totals",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the aggregator",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog(constants.ServiceName)

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
				if configFile == "" {
					earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
					return fmt.Errorf("config file is required")
				}
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting aggregator",
				"driver", cfg.Database.Driver,
				"broker", cfg.Broker.Type,
			)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			runErr := app.Run(ctx)
			if err := app.Shutdown(context.Background()); err != nil {
				log.Errorw("Shutdown finished with errors", "error", err)
			}
			if runErr != nil && runErr != context.Canceled {
				log.Errorw("Service stopped with error", "error", runErr)
				return runErr
			}
			log.Infow("Service shutdown complete")
			return nil
		},
	}
}
