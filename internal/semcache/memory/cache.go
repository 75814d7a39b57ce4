package memory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/duckmesh/tableqa/internal/embedding"
	"github.com/duckmesh/tableqa/internal/semcache"
)

const DefaultMaxEntries = 1000

type cachedEntry struct {
	entry  semcache.Entry
	vector []float32
}

// Cache keeps the most recently used entries in process memory.
type Cache struct {
	embedder embedding.Embedder
	entries  *lru.Cache[string, *cachedEntry]
}

func New(embedder embedding.Embedder, maxEntries int) (*Cache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, *cachedEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &Cache{embedder: embedder, entries: entries}, nil
}

func (c *Cache) Check(ctx context.Context, prompt string, threshold float64) (semcache.Entry, bool, error) {
	vector, err := embedding.EmbedOne(ctx, c.embedder, prompt)
	if err != nil {
		return semcache.Entry{}, false, fmt.Errorf("embed cache prompt: %w", err)
	}

	bestKey := ""
	bestDistance := math.Inf(1)
	for _, key := range c.entries.Keys() {
		cached, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if distance := embedding.CosineDistance(vector, cached.vector); distance < bestDistance {
			bestKey, bestDistance = key, distance
		}
	}
	if bestKey == "" || !semcache.WithinThreshold(bestDistance, threshold) {
		return semcache.Entry{}, false, nil
	}
	cached, ok := c.entries.Get(bestKey)
	if !ok {
		return semcache.Entry{}, false, nil
	}
	return cached.entry, true, nil
}

func (c *Cache) Store(ctx context.Context, entry semcache.Entry) error {
	vector, err := embedding.EmbedOne(ctx, c.embedder, entry.Prompt)
	if err != nil {
		return fmt.Errorf("embed cache prompt: %w", err)
	}
	if entry.Metadata.GeneratedAt.IsZero() {
		entry.Metadata.GeneratedAt = time.Now().UTC()
	}
	c.entries.Add(uuid.NewString(), &cachedEntry{entry: entry, vector: vector})
	return nil
}

func (c *Cache) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for _, key := range c.entries.Keys() {
		cached, ok := c.entries.Peek(key)
		if !ok || !cached.entry.Metadata.GeneratedAt.Before(cutoff) {
			continue
		}
		if c.entries.Remove(key) {
			deleted++
		}
	}
	return deleted, nil
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
