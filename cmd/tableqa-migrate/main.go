package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	catalogpostgres "github.com/duckmesh/tableqa/internal/catalog/postgres"
	"github.com/duckmesh/tableqa/internal/config"
	"github.com/duckmesh/tableqa/internal/migrations"
	"github.com/duckmesh/tableqa/internal/observability"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall migration deadline")
	flag.Parse()

	cfg, err := config.LoadFromEnv("tableqa-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run(ctx, cfg, logger, *direction, *steps); err != nil {
		logger.Error("migration failed", slog.String("direction", *direction), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, direction string, steps int) error {
	if cfg.Catalog.DSN == "" {
		return errors.New("TABLEQA_CATALOG_DSN is required")
	}
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfigFrom(cfg.Catalog))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	var apply func(context.Context, *sql.DB, int) (int, error)
	switch direction {
	case "up":
		apply = runner.Up
	case "down":
		apply = runner.Down
	case "status":
		pending, err := runner.Pending(ctx, db)
		if err != nil {
			return err
		}
		logger.Info("migration status", slog.Int("pending", len(pending)), slog.Any("versions", pending))
		return nil
	default:
		return fmt.Errorf("invalid direction %q", direction)
	}

	count, err := apply(ctx, db, steps)
	if err != nil {
		return err
	}
	logger.Info("migrations finished", slog.String("direction", direction), slog.Int("count", count))
	return nil
}
