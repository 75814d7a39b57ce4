package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/duckmesh/tableqa/internal/app"
	"github.com/duckmesh/tableqa/internal/config"
	"github.com/duckmesh/tableqa/internal/observability"
)

const defaultQuestion = "What was the year that The Notorious B.I.G was signed to Bad Boy?"

func main() {
	cfg, err := config.LoadFromEnv("tableqa")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	question := strings.TrimSpace(strings.Join(os.Args[1:], " "))
	if question == "" {
		question = defaultQuestion
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, question); err != nil {
		logger.Error("tableqa failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, question string) error {
	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close failed", slog.Any("error", err))
		}
	}()

	infos, err := application.Ingest(ctx)
	if err != nil {
		return err
	}
	logger.Info("tables ready", slog.Int("tables", len(infos)))

	answer, err := application.Pipeline().Run(ctx, question)
	if err != nil {
		return err
	}
	logger.Debug("answered", slog.String("sql", answer.SQL))
	_, err = fmt.Fprintln(os.Stdout, answer.Text)
	return err
}
