package query

import (
	"context"
	"errors"
	"time"
)

var ErrTableNotFound = errors.New("query: table not found")

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Store is the SQL-queryable side of ingested tables.
type Store interface {
	Engine
	UsableTableNames(ctx context.Context) ([]string, error)
	TableSchemaDescription(ctx context.Context, table string) (string, error)
}
