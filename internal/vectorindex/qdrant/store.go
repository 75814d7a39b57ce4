package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/duckmesh/tableqa/internal/vectorindex"
)

const upsertBatchSize = 256

type Config struct {
	Host      string
	Port      int
	APIKey    string
	UseTLS    bool
	Prefix    string
	Dimension int
}

type client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Store maps each named index onto one qdrant collection "<prefix>_<name>".
type Store struct {
	client    client
	closer    func() error
	prefix    string
	dimension int
}

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   strings.TrimSpace(cfg.Host),
		Port:   cfg.Port,
		APIKey: strings.TrimSpace(cfg.APIKey),
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	store, err := NewWithClient(qc, cfg.Prefix, cfg.Dimension)
	if err != nil {
		_ = qc.Close()
		return nil, err
	}
	store.closer = qc.Close
	return store, nil
}

func NewWithClient(c client, prefix string, dimension int) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &Store{client: c, prefix: strings.TrimSpace(prefix), dimension: dimension}, nil
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *Store) CollectionName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "_" + name
}

func (s *Store) Load(ctx context.Context, name string) (vectorindex.Index, error) {
	collection := s.CollectionName(name)
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check collection %q: %w", collection, err)
	}
	if !exists {
		return nil, vectorindex.ErrNotFound
	}
	return &Index{client: s.client, name: name, collection: collection}, nil
}

// Build replaces any existing collection for name with items.
func (s *Store) Build(ctx context.Context, name string, items []vectorindex.Item) (vectorindex.Index, error) {
	collection := s.CollectionName(name)
	dimension := s.dimension
	if len(items) > 0 {
		dimension = len(items[0].Vector)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension for %q is unknown", collection)
	}

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("check collection %q: %w", collection, err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, collection); err != nil {
			return nil, fmt.Errorf("drop collection %q: %w", collection, err)
		}
	}
	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return nil, fmt.Errorf("create collection %q: %w", collection, err)
	}

	index := &Index{client: s.client, name: name, collection: collection}
	if err := index.Upsert(ctx, items); err != nil {
		return nil, err
	}
	return index, nil
}

type Index struct {
	client     client
	name       string
	collection string
}

func (i *Index) Name() string {
	return i.name
}

func (i *Index) Upsert(ctx context.Context, items []vectorindex.Item) error {
	wait := true
	for start := 0; start < len(items); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(items) {
			end = len(items)
		}
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, item := range items[start:end] {
			if item.ID == "" {
				return fmt.Errorf("item id is required")
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewID(PointID(i.collection, item.ID)),
				Vectors: qdrant.NewVectors(item.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"item_id": item.ID,
					"text":    item.Text,
				}),
			})
		}
		if _, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: i.collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("upsert points into %q: %w", i.collection, err)
		}
	}
	return nil
}

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]vectorindex.Hit, error) {
	if k <= 0 {
		return []vectorindex.Hit{}, nil
	}
	limit := uint64(k)
	points, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", i.collection, err)
	}

	hits := make([]vectorindex.Hit, 0, len(points))
	for _, point := range points {
		payload := point.GetPayload()
		hits = append(hits, vectorindex.Hit{
			Item: vectorindex.Item{
				ID:   payload["item_id"].GetStringValue(),
				Text: payload["text"].GetStringValue(),
			},
			Score: float64(point.GetScore()),
		})
	}
	return hits, nil
}

// PointID derives a stable UUID so rebuilding a collection reuses point ids.
func PointID(collection, itemID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tableqa/"+collection+"/"+itemID)).String()
}
