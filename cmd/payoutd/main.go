package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/hotel-refunds/internal/app"
	"github.com/example/hotel-refunds/internal/config"
	"github.com/example/hotel-refunds/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.DatabaseDriver() == "memory" {
		logger.Error("payoutd needs a shared database; memory:// outboxes are drained by the api process")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	dispatcher, pub, err := a.NewDispatcher(cfg, logger)
	if err != nil {
		logger.Error("failed to build payout publisher", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	logger.Info("payout dispatcher started",
		"interval", cfg.Outbox.PollInterval.String(),
		"batch_size", cfg.Outbox.BatchSize,
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)
	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("payout dispatcher stopped")
}
