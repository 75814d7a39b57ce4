package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/tableqa/internal/storage"
	"github.com/duckmesh/tableqa/internal/vectorindex"
)

type snapshotRow struct {
	ID     string    `parquet:"id"`
	Text   string    `parquet:"text"`
	Vector []float32 `parquet:"vector"`
}

func EncodeSnapshot(items []vectorindex.Item) ([]byte, error) {
	rows := make([]snapshotRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, snapshotRow{ID: item.ID, Text: item.Text, Vector: item.Vector})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[snapshotRow](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeSnapshot(data []byte) ([]vectorindex.Item, error) {
	reader := parquet.NewGenericReader[snapshotRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	total := reader.NumRows()
	items := make([]vectorindex.Item, 0, total)
	batch := make([]snapshotRow, 128)
	for int64(len(items)) < total {
		count, err := reader.Read(batch)
		for _, row := range batch[:count] {
			items = append(items, vectorindex.Item{ID: row.ID, Text: row.Text, Vector: append([]float32(nil), row.Vector...)})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if count == 0 {
			break
		}
	}
	return items, nil
}

// Store keeps indexes in memory and persists each one as a parquet snapshot
// at <prefix>/<name>.parquet.
type Store struct {
	objects storage.ObjectStore
	prefix  string

	mu     sync.Mutex
	loaded map[string]*Index
}

func NewStore(objects storage.ObjectStore, prefix string) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Store{objects: objects, prefix: prefix, loaded: make(map[string]*Index)}, nil
}

func (s *Store) Load(ctx context.Context, name string) (vectorindex.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index, ok := s.loaded[name]; ok {
		return index, nil
	}

	key, err := storage.IndexSnapshotKey(s.prefix, name)
	if err != nil {
		return nil, err
	}
	data, err := storage.ReadAll(ctx, s.objects, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, vectorindex.ErrNotFound
		}
		return nil, fmt.Errorf("load index snapshot %q: %w", key, err)
	}
	items, err := DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode index snapshot %q: %w", key, err)
	}
	index := NewIndex(name)
	if err := index.Upsert(ctx, items); err != nil {
		return nil, err
	}
	s.loaded[name] = index
	return index, nil
}

func (s *Store) Build(ctx context.Context, name string, items []vectorindex.Item) (vectorindex.Index, error) {
	key, err := storage.IndexSnapshotKey(s.prefix, name)
	if err != nil {
		return nil, err
	}
	index := NewIndex(name)
	if err := index.Upsert(ctx, items); err != nil {
		return nil, err
	}
	data, err := EncodeSnapshot(index.Items())
	if err != nil {
		return nil, fmt.Errorf("encode index snapshot %q: %w", key, err)
	}
	if _, err := storage.PutBytes(ctx, s.objects, key, data, "application/vnd.apache.parquet"); err != nil {
		return nil, fmt.Errorf("persist index snapshot %q: %w", key, err)
	}

	s.mu.Lock()
	s.loaded[name] = index
	s.mu.Unlock()
	return index, nil
}
