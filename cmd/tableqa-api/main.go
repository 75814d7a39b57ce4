package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/tableqa/internal/api"
	"github.com/duckmesh/tableqa/internal/app"
	"github.com/duckmesh/tableqa/internal/auth"
	"github.com/duckmesh/tableqa/internal/config"
	"github.com/duckmesh/tableqa/internal/observability"
)

func main() {
	ingestFirst := flag.Bool("ingest", false, "ingest source CSVs before serving")
	flag.Parse()

	cfg, err := config.LoadFromEnv("tableqa-api")
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
	defer func() { _ = application.Close() }()

	if *ingestFirst {
		_, err = application.Ingest(ctx)
	} else {
		_, err = application.Load(ctx)
	}
	if err != nil {
		logger.Error("failed to prepare tables", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:      logger,
		Catalog:     application.Catalog,
		Asker:       application.Pipeline(),
		Maintenance: application.Maintenance,
		Readiness: api.CombineReadinessChecks(
			api.CheckCatalog(application.Catalog),
			api.CheckAIConfig(cfg),
		),
		DependencyTimeout: time.Second,
		AskTimeout:        cfg.HTTP.AskTimeout,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		if err := application.Maintenance.Run(ctx); err != nil {
			logger.Error("maintenance loop stopped", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
