package vectorindex

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("vectorindex: index not found")

type Item struct {
	ID     string
	Text   string
	Vector []float32
}

// Hit is a search result. Score is cosine similarity, higher is closer.
type Hit struct {
	Item  Item
	Score float64
}

type Index interface {
	Name() string
	Upsert(ctx context.Context, items []Item) error
	// Search returns at most k hits ordered by descending score.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
}

// Store persists named indexes. Load returns ErrNotFound when nothing has
// been built under name.
type Store interface {
	Load(ctx context.Context, name string) (Index, error)
	Build(ctx context.Context, name string, items []Item) (Index, error)
}
