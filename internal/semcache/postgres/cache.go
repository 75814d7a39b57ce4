package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/duckmesh/tableqa/internal/embedding"
	"github.com/duckmesh/tableqa/internal/semcache"
)

// Cache stores entries in the llm_cache table and ranks them with the
// pgvector cosine distance operator.
type Cache struct {
	db       *sql.DB
	embedder embedding.Embedder
	now      func() time.Time
}

func New(db *sql.DB, embedder embedding.Embedder) (*Cache, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Cache{db: db, embedder: embedder, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (c *Cache) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping cache db: %w", err)
	}
	return nil
}

func (c *Cache) Check(ctx context.Context, prompt string, threshold float64) (semcache.Entry, bool, error) {
	vector, err := embedding.EmbedOne(ctx, c.embedder, prompt)
	if err != nil {
		return semcache.Entry{}, false, fmt.Errorf("embed cache prompt: %w", err)
	}

	query := `
SELECT prompt, response, generated_at, embedding <=> $1 AS distance
FROM llm_cache
ORDER BY embedding <=> $1
LIMIT 1`

	var (
		entry    semcache.Entry
		distance float64
	)
	if err := c.db.QueryRowContext(ctx, query, pgvector.NewVector(vector)).Scan(
		&entry.Prompt,
		&entry.Response,
		&entry.Metadata.GeneratedAt,
		&distance,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return semcache.Entry{}, false, nil
		}
		return semcache.Entry{}, false, fmt.Errorf("query llm cache: %w", err)
	}
	if !semcache.WithinThreshold(distance, threshold) {
		return semcache.Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *Cache) Store(ctx context.Context, entry semcache.Entry) error {
	vector, err := embedding.EmbedOne(ctx, c.embedder, entry.Prompt)
	if err != nil {
		return fmt.Errorf("embed cache prompt: %w", err)
	}
	generatedAt := entry.Metadata.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = c.now()
	}

	query := `
INSERT INTO llm_cache (entry_id, prompt, response, embedding, generated_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := c.db.ExecContext(ctx, query,
		uuid.NewString(),
		entry.Prompt,
		entry.Response,
		pgvector.NewVector(vector),
		generatedAt,
	); err != nil {
		return fmt.Errorf("insert llm cache entry: %w", err)
	}
	return nil
}

func (c *Cache) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM llm_cache WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired llm cache entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted llm cache entries: %w", err)
	}
	return deleted, nil
}
