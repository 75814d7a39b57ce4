package selector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/duckmesh/tableqa/internal/catalog"
	"github.com/duckmesh/tableqa/internal/embedding"
	"github.com/duckmesh/tableqa/internal/vectorindex"
	"github.com/duckmesh/tableqa/internal/vectorindex/memory"
)

const DefaultTopK = 3

var ErrNotBuilt = errors.New("selector: index not built")

// TableSchema is a retrieved table with the context that describes it.
type TableSchema struct {
	TableName  string
	ContextStr string
}

// Selector ranks catalog tables against a free-text query by embedding
// "<name>: <summary>" for each table.
type Selector struct {
	embedder embedding.Embedder
	topK     int

	mu     sync.RWMutex
	index  *memory.Index
	tables []catalog.TableInfo
}

func New(embedder embedding.Embedder, topK int) (*Selector, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Selector{embedder: embedder, topK: topK}, nil
}

// Build replaces the selector's index with one entry per table.
func (s *Selector) Build(ctx context.Context, tables []catalog.TableInfo) error {
	texts := make([]string, 0, len(tables))
	for _, table := range tables {
		texts = append(texts, table.TableName+": "+table.TableSummary)
	}
	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed table summaries: %w", err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embed table summaries: got %d vectors for %d tables", len(vectors), len(texts))
		}
	}

	items := make([]vectorindex.Item, 0, len(texts))
	for i, text := range texts {
		items = append(items, vectorindex.Item{ID: strconv.Itoa(i), Text: text, Vector: vectors[i]})
	}
	index := memory.NewIndex("tables")
	if err := index.Upsert(ctx, items); err != nil {
		return fmt.Errorf("index table summaries: %w", err)
	}

	s.mu.Lock()
	s.index = index
	s.tables = append([]catalog.TableInfo(nil), tables...)
	s.mu.Unlock()
	return nil
}

// Retrieve returns at most top-k tables, most relevant first.
func (s *Selector) Retrieve(ctx context.Context, query string) ([]TableSchema, error) {
	s.mu.RLock()
	index, tables := s.index, s.tables
	s.mu.RUnlock()
	if index == nil {
		return nil, ErrNotBuilt
	}
	if len(tables) == 0 {
		return []TableSchema{}, nil
	}

	vector, err := embedding.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := index.Search(ctx, vector, s.topK)
	if err != nil {
		return nil, fmt.Errorf("search tables: %w", err)
	}

	out := make([]TableSchema, 0, len(hits))
	for _, hit := range hits {
		position, err := strconv.Atoi(hit.Item.ID)
		if err != nil || position < 0 || position >= len(tables) {
			return nil, fmt.Errorf("table index entry %q out of range", hit.Item.ID)
		}
		table := tables[position]
		out = append(out, TableSchema{TableName: table.TableName, ContextStr: table.TableSummary})
	}
	return out, nil
}

func (s *Selector) TopK() int {
	return s.topK
}
