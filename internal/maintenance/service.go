package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmesh/tableqa/internal/catalog"
	"github.com/duckmesh/tableqa/internal/semcache"
	"github.com/duckmesh/tableqa/internal/vectorindex"
)

type TableChecker interface {
	HasTable(ctx context.Context, table string) (bool, error)
}

type IndexLoader interface {
	Load(ctx context.Context, name string) (vectorindex.Index, error)
}

type Config struct {
	RetentionInterval time.Duration
	IntegrityInterval time.Duration
	MaxAge            time.Duration
}

// Service expires old semantic cache entries and checks that every catalog
// entry still has its relational table and row index.
type Service struct {
	Cache   semcache.Purger
	Catalog catalog.Repository
	Tables  TableChecker
	Indexes IndexLoader
	Config  Config
	Logger  *slog.Logger
	Clock   func() time.Time
}

type RetentionSummary struct {
	Cutoff         time.Time `json:"cutoff"`
	EntriesDeleted int64     `json:"entries_deleted"`
}

type IntegritySummary struct {
	TablesChecked       int      `json:"tables_checked"`
	MissingTables       []string `json:"missing_tables"`
	MissingIndexes      []string `json:"missing_indexes"`
	OperationalFailures int      `json:"operational_failures"`
}

// Run ticks cache retention and the catalog integrity check on their own
// intervals until ctx is cancelled. A job whose dependencies are missing is
// skipped.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	var retention, integrity <-chan time.Time
	if s.Cache != nil {
		ticker := time.NewTicker(s.Config.RetentionInterval)
		defer ticker.Stop()
		retention = ticker.C
	}
	if s.Catalog != nil && s.Tables != nil {
		ticker := time.NewTicker(s.Config.IntegrityInterval)
		defer ticker.Stop()
		integrity = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retention:
			summary, err := s.RunRetentionOnce(ctx)
			s.logCycle(ctx, "retention", summary, err)
		case <-integrity:
			summary, err := s.RunIntegrityCheckOnce(ctx)
			s.logCycle(ctx, "integrity", summary, err)
		}
	}
}

func (s *Service) logCycle(ctx context.Context, job string, summary any, err error) {
	if s.Logger == nil {
		return
	}
	if err != nil {
		s.Logger.ErrorContext(ctx, job+" cycle failed", slog.Any("error", err), slog.Any("summary", summary))
		return
	}
	s.Logger.InfoContext(ctx, job+" cycle completed", slog.Any("summary", summary))
}

func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.Cache == nil {
		return RetentionSummary{}, fmt.Errorf("cache is required")
	}

	summary := RetentionSummary{Cutoff: s.Clock().UTC().Add(-s.Config.MaxAge)}
	deleted, err := s.Cache.DeleteOlderThan(ctx, summary.Cutoff)
	if err != nil {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("delete expired cache entries: %w", err)
	}
	summary.EntriesDeleted = deleted
	if deleted > 0 {
		cacheEntriesDeletedTotal.Add(float64(deleted))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return IntegritySummary{}, fmt.Errorf("catalog is required")
	}
	if s.Tables == nil {
		return IntegritySummary{}, fmt.Errorf("relational store is required")
	}

	records, err := s.Catalog.List(ctx)
	if err != nil {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return IntegritySummary{}, fmt.Errorf("list catalog: %w", err)
	}

	summary := IntegritySummary{MissingTables: []string{}, MissingIndexes: []string{}}
	failures := make([]string, 0)
	for _, record := range records {
		table := record.Info.TableName
		summary.TablesChecked++

		exists, err := s.Tables.HasTable(ctx, table)
		if err != nil {
			summary.OperationalFailures++
			failures = append(failures, fmt.Sprintf("table %s: %v", table, err))
			continue
		}
		if !exists {
			summary.MissingTables = append(summary.MissingTables, table)
			integrityMissingTotal.WithLabelValues("table").Inc()
			continue
		}

		if s.Indexes == nil {
			continue
		}
		if _, err := s.Indexes.Load(ctx, table); err != nil {
			if errors.Is(err, vectorindex.ErrNotFound) {
				summary.MissingIndexes = append(summary.MissingIndexes, table)
				integrityMissingTotal.WithLabelValues("index").Inc()
				continue
			}
			summary.OperationalFailures++
			failures = append(failures, fmt.Sprintf("index %s: %v", table, err))
		}
	}

	if len(failures) > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("integrity check encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = time.Hour
	}
	if s.Config.IntegrityInterval <= 0 {
		s.Config.IntegrityInterval = 30 * time.Minute
	}
	if s.Config.MaxAge <= 0 {
		s.Config.MaxAge = 7 * 24 * time.Hour
	}
}
