package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/duckmesh/tableqa/internal/catalog"
	catalogobjectstore "github.com/duckmesh/tableqa/internal/catalog/objectstore"
	catalogpostgres "github.com/duckmesh/tableqa/internal/catalog/postgres"
	"github.com/duckmesh/tableqa/internal/config"
	"github.com/duckmesh/tableqa/internal/embedding"
	"github.com/duckmesh/tableqa/internal/ingest"
	"github.com/duckmesh/tableqa/internal/llm"
	"github.com/duckmesh/tableqa/internal/maintenance"
	"github.com/duckmesh/tableqa/internal/pipeline"
	"github.com/duckmesh/tableqa/internal/query/duckdb"
	"github.com/duckmesh/tableqa/internal/rowindex"
	"github.com/duckmesh/tableqa/internal/selector"
	"github.com/duckmesh/tableqa/internal/semcache"
	semcachememory "github.com/duckmesh/tableqa/internal/semcache/memory"
	semcachepostgres "github.com/duckmesh/tableqa/internal/semcache/postgres"
	"github.com/duckmesh/tableqa/internal/storage"
	"github.com/duckmesh/tableqa/internal/storage/local"
	s3store "github.com/duckmesh/tableqa/internal/storage/s3"
	"github.com/duckmesh/tableqa/internal/summarize"
	"github.com/duckmesh/tableqa/internal/vectorindex"
	vectormemory "github.com/duckmesh/tableqa/internal/vectorindex/memory"
	vectorqdrant "github.com/duckmesh/tableqa/internal/vectorindex/qdrant"
)

// App holds every component built from one configuration.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Objects     storage.ObjectStore
	Catalog     catalog.Repository
	Tables      *duckdb.Store
	Embedder    embedding.Embedder
	Vectors     vectorindex.Store
	Cache       semcache.Cache
	Completer   llm.Completer
	Summarizer  *summarize.Summarizer
	Selector    *selector.Selector
	Rows        *rowindex.Service
	Maintenance *maintenance.Service

	closers []func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	objects, err := openObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}
	a.Objects = objects

	var db *sql.DB
	if cfg.Catalog.Backend == config.CatalogBackendPostgres || cfg.Cache.Backend == config.CacheBackendPostgres {
		db, err = catalogpostgres.Open(ctx, catalogpostgres.DBConfigFrom(cfg.Catalog))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
	}

	switch cfg.Catalog.Backend {
	case config.CatalogBackendPostgres:
		a.Catalog = catalogpostgres.NewRepository(db)
	default:
		repo, err := catalogobjectstore.NewRepository(objects, cfg.Catalog.Prefix)
		if err != nil {
			return err
		}
		a.Catalog = repo
	}

	tables, err := duckdb.Open(ctx, cfg.Warehouse.Path)
	if err != nil {
		return err
	}
	a.Tables = tables
	a.closers = append(a.closers, tables.Close)

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	a.Embedder = embedder

	switch cfg.Index.Backend {
	case config.IndexBackendQdrant:
		store, err := vectorqdrant.New(vectorqdrant.Config{
			Host:      cfg.Index.QdrantHost,
			Port:      cfg.Index.QdrantPort,
			APIKey:    cfg.Index.QdrantAPIKey,
			UseTLS:    cfg.Index.QdrantUseTLS,
			Prefix:    cfg.Index.Prefix,
			Dimension: cfg.Embedding.Dimension,
		})
		if err != nil {
			return err
		}
		a.Vectors = store
		a.closers = append(a.closers, store.Close)
	default:
		store, err := vectormemory.NewStore(objects, cfg.Index.Prefix)
		if err != nil {
			return err
		}
		a.Vectors = store
	}

	var purger semcache.Purger
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		cache, err := semcachememory.New(embedder, cfg.Cache.MaxEntries)
		if err != nil {
			return err
		}
		a.Cache, purger = cache, cache
	case config.CacheBackendPostgres:
		cache, err := semcachepostgres.New(db, embedder)
		if err != nil {
			return err
		}
		a.Cache, purger = cache, cache
	default:
		a.Cache = semcache.Disabled{}
	}

	completer, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("create completion client: %w", err)
	}
	a.Completer = completer

	a.Summarizer, err = summarize.New(completer, a.Logger)
	if err != nil {
		return err
	}
	a.Selector, err = selector.New(embedder, cfg.Selector.TopK)
	if err != nil {
		return err
	}
	a.Rows, err = rowindex.NewService(tables, embedder, a.Vectors, a.Logger)
	if err != nil {
		return err
	}

	a.Maintenance = &maintenance.Service{
		Cache:   purger,
		Catalog: a.Catalog,
		Tables:  tables,
		Indexes: a.Vectors,
		Config: maintenance.Config{
			RetentionInterval: cfg.Cache.RetentionInterval,
			IntegrityInterval: cfg.Catalog.IntegrityInterval,
			MaxAge:            cfg.Cache.MaxAge,
		},
		Logger: a.Logger,
	}
	return nil
}

// Ingest loads every source CSV, then builds the table selector and the row
// index of every relational table.
func (a *App) Ingest(ctx context.Context) ([]catalog.TableInfo, error) {
	service := &ingest.Service{
		Catalog:    a.Catalog,
		Sources:    a.Objects,
		Tables:     a.Tables,
		Summarizer: a.Summarizer,
		Config: ingest.Config{
			SourcePrefix:  a.Config.Source.Prefix,
			PreviewRows:   a.Config.Source.PreviewRows,
			WorkDirPrefix: a.Config.Source.WorkDirPrefix,
		},
		Logger: a.Logger,
	}
	infos, err := service.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest sources: %w", err)
	}
	if err := a.Selector.Build(ctx, infos); err != nil {
		return nil, err
	}

	tables, err := a.Tables.UsableTableNames(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.Rows.IndexAll(ctx, tables); err != nil {
		return nil, fmt.Errorf("index table rows: %w", err)
	}
	return infos, nil
}

// Load prepares the selector from an already ingested catalog. Row indexes
// are opened on first use.
func (a *App) Load(ctx context.Context) ([]catalog.TableInfo, error) {
	records, err := a.Catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	infos := catalog.Infos(records)
	if err := a.Selector.Build(ctx, infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (a *App) Pipeline() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Selector:  a.Selector,
		Rows:      a.Rows,
		Store:     a.Tables,
		Completer: a.Completer,
		Cache:     a.Cache,
		Config: pipeline.Config{
			SQLDialect:     a.Config.AI.SQLDialect,
			RowTopK:        a.Config.Index.RowTopK,
			CacheThreshold: a.Config.Cache.DistanceThreshold,
			CacheFailOpen:  a.Config.Cache.FailOpen,
		},
		Logger: a.Logger,
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case config.ObjectStoreBackendS3:
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Endpoint,
			Region:           cfg.Region,
			Bucket:           cfg.Bucket,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			UseSSL:           cfg.UseSSL,
			Prefix:           cfg.Prefix,
			AutoCreateBucket: cfg.AutoCreateBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 object store: %w", err)
		}
		return store, nil
	default:
		store, err := local.New(filepath.Clean(cfg.LocalDir))
		if err != nil {
			return nil, fmt.Errorf("open local object store: %w", err)
		}
		return store, nil
	}
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingProviderHash:
		return embedding.NewHashEmbedder(cfg.Dimension), nil
	default:
		embedder, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		return embedder, nil
	}
}
