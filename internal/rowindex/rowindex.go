package rowindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/duckmesh/tableqa/internal/embedding"
	"github.com/duckmesh/tableqa/internal/nl2sql"
	"github.com/duckmesh/tableqa/internal/observability"
	"github.com/duckmesh/tableqa/internal/query"
	"github.com/duckmesh/tableqa/internal/vectorindex"
)

type Scanner interface {
	ScanTable(ctx context.Context, table string) (query.Result, error)
}

// Handle is an opened row index for one table.
type Handle struct {
	Table string
	index vectorindex.Index
}

// Service builds one similarity index per table over its rows rendered as
// tuple strings. Indexes persisted by an earlier run are loaded, not rebuilt.
type Service struct {
	tables   Scanner
	embedder embedding.Embedder
	vectors  vectorindex.Store
	logger   *slog.Logger

	opening singleflight.Group
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewService(tables Scanner, embedder embedding.Embedder, vectors vectorindex.Store, logger *slog.Logger) (*Service, error) {
	if tables == nil {
		return nil, fmt.Errorf("table scanner is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		tables:   tables,
		embedder: embedder,
		vectors:  vectors,
		logger:   logger,
		handles:  make(map[string]*Handle),
	}, nil
}

// Index returns the row index for table, building it on first use.
// Concurrent first calls for one table share a single build; other tables
// are not held up by it.
func (s *Service) Index(ctx context.Context, table string) (*Handle, error) {
	if handle, ok := s.cached(table); ok {
		return handle, nil
	}

	opened, err, _ := s.opening.Do(table, func() (any, error) {
		if handle, ok := s.cached(table); ok {
			return handle, nil
		}
		index, err := s.open(ctx, table)
		if err != nil {
			return nil, err
		}
		handle := &Handle{Table: table, index: index}
		s.mu.Lock()
		s.handles[table] = handle
		s.mu.Unlock()
		return handle, nil
	})
	if err != nil {
		return nil, err
	}
	return opened.(*Handle), nil
}

func (s *Service) cached(table string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[table]
	return handle, ok
}

func (s *Service) open(ctx context.Context, table string) (vectorindex.Index, error) {
	index, err := s.vectors.Load(ctx, table)
	switch {
	case err == nil:
		observability.ObserveIndexBuild("loaded")
		return index, nil
	case errors.Is(err, vectorindex.ErrNotFound):
		index, err = s.build(ctx, table)
		if err != nil {
			return nil, err
		}
		observability.ObserveIndexBuild("built")
		return index, nil
	default:
		return nil, fmt.Errorf("load row index %q: %w", table, err)
	}
}

// IndexAll opens the row index of every table in order.
func (s *Service) IndexAll(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if _, err := s.Index(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// Nearest returns up to k row strings of the handle's table ranked by
// similarity to text.
func (s *Service) Nearest(ctx context.Context, handle *Handle, text string, k int) ([]string, error) {
	if handle == nil {
		return nil, fmt.Errorf("row index handle is required")
	}
	if k <= 0 {
		return []string{}, nil
	}
	vector, err := embedding.EmbedOne(ctx, s.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embed row query: %w", err)
	}
	hits, err := handle.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search rows of %q: %w", handle.Table, err)
	}
	rows := make([]string, 0, len(hits))
	for _, hit := range hits {
		rows = append(rows, hit.Item.Text)
	}
	return rows, nil
}

func (s *Service) build(ctx context.Context, table string) (vectorindex.Index, error) {
	result, err := s.tables.ScanTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("scan rows for index %q: %w", table, err)
	}

	texts := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		texts = append(texts, nl2sql.FormatRow(row))
	}
	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed rows of %q: %w", table, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embed rows of %q: got %d vectors for %d rows", table, len(vectors), len(texts))
		}
	}

	items := make([]vectorindex.Item, 0, len(texts))
	for i, text := range texts {
		items = append(items, vectorindex.Item{ID: strconv.Itoa(i), Text: text, Vector: vectors[i]})
	}
	index, err := s.vectors.Build(ctx, table, items)
	if err != nil {
		return nil, fmt.Errorf("build row index %q: %w", table, err)
	}
	s.logger.InfoContext(ctx, "row index built",
		slog.String("table", table),
		slog.Int("rows", len(items)),
		slog.String("embedder", s.embedder.Name()),
	)
	return index, nil
}

// RelevantRows opens the index of table and returns its k nearest rows.
func (s *Service) RelevantRows(ctx context.Context, table, text string, k int) ([]string, error) {
	handle, err := s.Index(ctx, table)
	if err != nil {
		return nil, err
	}
	return s.Nearest(ctx, handle, text, k)
}
