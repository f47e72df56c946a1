package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/virex/internal/api"
	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/core"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/telegram"
	"github.com/therealutkarshpriyadarshi/virex/internal/tracing"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Bot.Token == "" {
		log.Fatal("bot.token is required")
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

	c, err := core.Open(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize core")
	}
	defer c.Close()

	botAPI, err := telegram.NewAPI(cfg.Bot)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect bot")
	}
	bot := telegram.New(botAPI, c, cfg.Bot, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c.Start(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })

	if cfg.Server.Enabled {
		sessions, err := api.NewSessions(cfg.Data, cfg.Auth.SessionTTL, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load sessions")
		}
		defer sessions.Close()
		server := api.New(*cfg, c, sessions, logger)
		g.Go(func() error { return server.Run(gctx) })
	}

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Port, map[string]metrics.HealthCheck{"cache": c.Cache().Ping}, logger)
		g.Go(func() error { return ms.Run(gctx) })
	}

	logger.Info("Bot started")
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Bot stopped with error")
	}
	logger.Info("Bot stopped")
}
