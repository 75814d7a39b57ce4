package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/duckmesh/tableqa/internal/embedding"
	"github.com/duckmesh/tableqa/internal/vectorindex"
)

// Index is a brute-force cosine index held in memory.
type Index struct {
	name string

	mu    sync.RWMutex
	order []string
	items map[string]vectorindex.Item
}

func NewIndex(name string) *Index {
	return &Index{name: name, items: make(map[string]vectorindex.Item)}
}

func (i *Index) Name() string {
	return i.name
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.order)
}

func (i *Index) Upsert(_ context.Context, items []vectorindex.Item) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("item id is required")
		}
		if _, exists := i.items[item.ID]; !exists {
			i.order = append(i.order, item.ID)
		}
		i.items[item.ID] = item
	}
	return nil
}

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]vectorindex.Hit, error) {
	if k <= 0 {
		return []vectorindex.Hit{}, nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()

	hits := make([]vectorindex.Hit, 0, len(i.order))
	for _, id := range i.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := i.items[id]
		hits = append(hits, vectorindex.Hit{Item: item, Score: 1 - embedding.CosineDistance(vector, item.Vector)})
	}
	// Stable keeps insertion order among equal scores.
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Items returns a copy of the stored items in insertion order.
func (i *Index) Items() []vectorindex.Item {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]vectorindex.Item, 0, len(i.order))
	for _, id := range i.order {
		out = append(out, i.items[id])
	}
	return out
}
