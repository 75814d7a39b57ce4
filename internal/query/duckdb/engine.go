package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/tableqa/internal/query"
)

var nonWordPattern = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Store is a persistent DuckDB database holding one table per ingested CSV.
type Store struct {
	db *sql.DB

	// writes serializes DDL issued during ingestion.
	writes sync.Mutex
}

// Open opens the database file at path, or an in-memory database when path is empty.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("duckdb", strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping duckdb: %w", err)
	}
	return nil
}

func (s *Store) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	result, err := s.queryAll(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Store) HasTable(ctx context.Context, table string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_schema = 'main' AND table_name = ?`, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", table, err)
	}
	return count > 0, nil
}

func (s *Store) UsableTableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'main'
ORDER BY table_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return names, nil
}

// TableSchemaDescription renders "Table '<t>' has columns: a (VARCHAR), b (BIGINT)."
func (s *Store) TableSchemaDescription(ctx context.Context, table string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main' AND table_name = ?
ORDER BY ordinal_position ASC`, table)
	if err != nil {
		return "", fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]string, 0)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return "", fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, fmt.Sprintf("%s (%s)", name, dataType))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate columns: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("%w: %q", query.ErrTableNotFound, table)
	}
	return fmt.Sprintf("Table '%s' has columns: %s.", table, strings.Join(columns, ", ")), nil
}

// PreviewCSV reads the first n data rows of a CSV file without creating a table.
func (s *Store) PreviewCSV(ctx context.Context, path string, n int) (query.Result, error) {
	if n <= 0 {
		n = 10
	}
	sqlText := fmt.Sprintf("SELECT * FROM %s LIMIT %d", readCSV(path), n)
	result, err := s.queryAll(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("preview csv %q: %w", path, err)
	}
	return result, nil
}

// CreateTableFromCSV loads path into a new table. Column names are rewritten
// to word characters and de-duplicated.
func (s *Store) CreateTableFromCSV(ctx context.Context, table, path string) error {
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("table name is required")
	}
	source := readCSV(path)

	described, err := s.queryAll(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return fmt.Errorf("describe csv %q: %w", path, err)
	}
	original := make([]string, 0, len(described.Rows))
	for _, row := range described.Rows {
		if len(row) == 0 {
			continue
		}
		name, _ := row[0].(string)
		original = append(original, name)
	}
	if len(original) == 0 {
		return fmt.Errorf("csv %q has no columns", path)
	}

	sanitized := SanitizeColumnNames(original)
	projections := make([]string, 0, len(original))
	for i := range original {
		projections = append(projections, quoteIdent(original[i])+" AS "+quoteIdent(sanitized[i]))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s", quoteIdent(table), strings.Join(projections, ", "), source)

	s.writes.Lock()
	defer s.writes.Unlock()
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %q from csv: %w", table, err)
	}
	return nil
}

// ScanTable returns every row of table in storage order.
func (s *Store) ScanTable(ctx context.Context, table string) (query.Result, error) {
	result, err := s.queryAll(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return query.Result{}, fmt.Errorf("scan table %q: %w", table, err)
	}
	return result, nil
}

func (s *Store) queryAll(ctx context.Context, sqlText string) (query.Result, error) {
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return query.Result{Columns: columns, Rows: resultRows}, nil
}

// SanitizeColumnNames replaces runs of non-word characters with "_" and
// suffixes repeats (case-insensitively) with _2, _3, ...
func SanitizeColumnNames(names []string) []string {
	out := make([]string, len(names))
	taken := make(map[string]struct{}, len(names))
	for i, name := range names {
		clean := nonWordPattern.ReplaceAllString(name, "_")
		if clean == "" {
			clean = fmt.Sprintf("column_%d", i)
		}
		candidate := clean
		for n := 2; ; n++ {
			if _, ok := taken[strings.ToLower(candidate)]; !ok {
				break
			}
			candidate = fmt.Sprintf("%s_%d", clean, n)
		}
		taken[strings.ToLower(candidate)] = struct{}{}
		out[i] = candidate
	}
	return out
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case interface{ Float64() float64 }:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func readCSV(path string) string {
	return fmt.Sprintf("read_csv_auto(%s, ignore_errors=true)", quoteString(path))
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
