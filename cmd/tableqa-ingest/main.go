package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/duckmesh/tableqa/internal/app"
	"github.com/duckmesh/tableqa/internal/config"
	"github.com/duckmesh/tableqa/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("tableqa-ingest")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", slog.Any("error", err))
		os.Exit(1)
	}

	infos, err := application.Ingest(ctx)
	closeErr := application.Close()
	if err != nil {
		logger.Error("ingestion failed", slog.Any("error", err))
		os.Exit(1)
	}
	if closeErr != nil {
		logger.Warn("close failed", slog.Any("error", closeErr))
	}
	logger.Info("ingestion completed", slog.Int("tables", len(infos)))
}
