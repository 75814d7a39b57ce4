package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duckmesh/tableqa/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) GetByIndex(ctx context.Context, index int) (catalog.Record, error) {
	query := `
SELECT table_index, table_name, table_summary, created_at
FROM table_info
WHERE table_index = $1`

	var record catalog.Record
	if err := r.db.QueryRowContext(ctx, query, index).Scan(
		&record.Index,
		&record.Info.TableName,
		&record.Info.TableSummary,
		&record.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Record{}, catalog.ErrNotFound
		}
		return catalog.Record{}, fmt.Errorf("get table info: %w", err)
	}
	return record, nil
}

func (r *Repository) Save(ctx context.Context, index int, info catalog.TableInfo) (catalog.Record, error) {
	if index < 0 {
		return catalog.Record{}, fmt.Errorf("table index must be >= 0")
	}
	if info.TableName == "" {
		return catalog.Record{}, fmt.Errorf("table name is required")
	}

	query := `
INSERT INTO table_info (table_index, table_name, table_summary)
VALUES ($1, $2, $3)
ON CONFLICT (table_index) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, index, info.TableName, info.TableSummary); err != nil {
		return catalog.Record{}, fmt.Errorf("save table info: %w", err)
	}
	return r.GetByIndex(ctx, index)
}

func (r *Repository) List(ctx context.Context) ([]catalog.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT table_index, table_name, table_summary, created_at
FROM table_info
ORDER BY table_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("list table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]catalog.Record, 0)
	for rows.Next() {
		var record catalog.Record
		if err := rows.Scan(&record.Index, &record.Info.TableName, &record.Info.TableSummary, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan table info row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info rows: %w", err)
	}
	return records, nil
}
