package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/duckmesh/tableqa/internal/catalog"
	"github.com/duckmesh/tableqa/internal/storage"
)

// Repository keeps one JSON document per table at <prefix>/<index>_<name>.json.
type Repository struct {
	store  storage.ObjectStore
	prefix string

	mu sync.Mutex
}

func NewRepository(store storage.ObjectStore, prefix string) (*Repository, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Repository{store: store, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if _, err := r.store.List(ctx, r.listPrefix()); err != nil {
		return fmt.Errorf("list catalog objects: %w", err)
	}
	return nil
}

func (r *Repository) GetByIndex(ctx context.Context, index int) (catalog.Record, error) {
	objects, err := r.store.List(ctx, storage.TableInfoIndexPrefix(r.prefix, index))
	if err != nil {
		return catalog.Record{}, fmt.Errorf("list table info for index %d: %w", index, err)
	}
	matches := make([]storage.ObjectInfo, 0, 1)
	for _, obj := range objects {
		if parsedIndex, _, ok := storage.ParseTableInfoKey(obj.Key); ok && parsedIndex == index {
			matches = append(matches, obj)
		}
	}
	switch len(matches) {
	case 0:
		return catalog.Record{}, catalog.ErrNotFound
	case 1:
		return r.read(ctx, index, matches[0])
	default:
		keys := make([]string, 0, len(matches))
		for _, obj := range matches {
			keys = append(keys, obj.Key)
		}
		return catalog.Record{}, fmt.Errorf("%w %d: %s", catalog.ErrAmbiguous, index, strings.Join(keys, ", "))
	}
}

func (r *Repository) Save(ctx context.Context, index int, info catalog.TableInfo) (catalog.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.GetByIndex(ctx, index)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return catalog.Record{}, err
	}

	key, err := storage.TableInfoKey(r.prefix, index, info.TableName)
	if err != nil {
		return catalog.Record{}, err
	}
	body, err := json.Marshal(info)
	if err != nil {
		return catalog.Record{}, fmt.Errorf("encode table info: %w", err)
	}
	if _, err := storage.PutBytes(ctx, r.store, key, body, "application/json"); err != nil {
		return catalog.Record{}, fmt.Errorf("save table info %q: %w", key, err)
	}
	return r.GetByIndex(ctx, index)
}

func (r *Repository) List(ctx context.Context) ([]catalog.Record, error) {
	objects, err := r.store.List(ctx, r.listPrefix())
	if err != nil {
		return nil, fmt.Errorf("list table info: %w", err)
	}

	seen := make(map[int]string, len(objects))
	records := make([]catalog.Record, 0, len(objects))
	for _, obj := range objects {
		index, _, ok := storage.ParseTableInfoKey(obj.Key)
		if !ok || !r.directChild(obj.Key) {
			continue
		}
		if previous, dup := seen[index]; dup {
			return nil, fmt.Errorf("%w %d: %s, %s", catalog.ErrAmbiguous, index, previous, obj.Key)
		}
		seen[index] = obj.Key
		record, err := r.read(ctx, index, obj)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

func (r *Repository) read(ctx context.Context, index int, obj storage.ObjectInfo) (catalog.Record, error) {
	body, err := storage.ReadAll(ctx, r.store, obj.Key)
	if err != nil {
		return catalog.Record{}, fmt.Errorf("read table info %q: %w", obj.Key, err)
	}
	var info catalog.TableInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return catalog.Record{}, fmt.Errorf("decode table info %q: %w", obj.Key, err)
	}
	return catalog.Record{Index: index, Info: info, CreatedAt: obj.LastModified}, nil
}

func (r *Repository) listPrefix() string {
	if r.prefix == "" {
		return ""
	}
	return r.prefix + "/"
}

func (r *Repository) directChild(key string) bool {
	rest := strings.TrimPrefix(key, r.listPrefix())
	return !strings.Contains(rest, "/")
}
