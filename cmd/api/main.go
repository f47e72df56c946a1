package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/therealutkarshpriyadarshi/virex/internal/api"
	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/core"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Warn("Tracing disabled")
	} else {
		defer closer.Close()
	}

	// Initialize core without a chat transport; results go back over HTTP
	c, err := core.Open(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize core")
	}
	defer c.Close()

	sessions, err := api.NewSessions(cfg.Data, cfg.Auth.SessionTTL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load sessions")
	}
	defer sessions.Close()

	// Handle shutdown gracefully
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Port, map[string]metrics.HealthCheck{"cache": c.Cache().Ping}, logger)
		go func() {
			if err := ms.Run(ctx); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	c.Start(ctx)
	if err := api.New(*cfg, c, sessions, logger).Run(ctx); err != nil {
		logger.WithError(err).Error("API server stopped with error")
	}
	logger.Info("Server exited")
}
