package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/tableqa/internal/query"
	"github.com/duckmesh/tableqa/internal/selector"
	"github.com/duckmesh/tableqa/internal/semcache"
)

type fakeSelector struct {
	tables []selector.TableSchema
	err    error
}

func (f *fakeSelector) Retrieve(context.Context, string) ([]selector.TableSchema, error) {
	return f.tables, f.err
}

type fakeRows struct {
	rows  map[string][]string
	calls []int
}

func (f *fakeRows) RelevantRows(_ context.Context, table, _ string, k int) ([]string, error) {
	f.calls = append(f.calls, k)
	rows := f.rows[table]
	if len(rows) > k {
		rows = rows[:k]
	}
	return rows, nil
}

type fakeStore struct {
	schemas  map[string]string
	result   query.Result
	err      error
	executed []string
}

func (f *fakeStore) Execute(_ context.Context, request query.Request) (query.Result, error) {
	f.executed = append(f.executed, request.SQL)
	if f.err != nil {
		return query.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeStore) UsableTableNames(context.Context) ([]string, error) {
	names := make([]string, 0, len(f.schemas))
	for name := range f.schemas {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) TableSchemaDescription(_ context.Context, table string) (string, error) {
	schema, ok := f.schemas[table]
	if !ok {
		return "", query.ErrTableNotFound
	}
	return schema, nil
}

type fakeCompleter struct {
	responses []string
	prompts   []string
	err       error
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	response := f.responses[0]
	f.responses = f.responses[1:]
	return response, nil
}

// exactCache hits only on identical prompts.
type exactCache struct {
	entries  map[string]semcache.Entry
	stored   []semcache.Entry
	checkErr error
	storeErr error
}

func (c *exactCache) Check(_ context.Context, prompt string, _ float64) (semcache.Entry, bool, error) {
	if c.checkErr != nil {
		return semcache.Entry{}, false, c.checkErr
	}
	entry, ok := c.entries[prompt]
	return entry, ok, nil
}

func (c *exactCache) Store(_ context.Context, entry semcache.Entry) error {
	if c.storeErr != nil {
		return c.storeErr
	}
	if c.entries == nil {
		c.entries = make(map[string]semcache.Entry)
	}
	c.entries[entry.Prompt] = entry
	c.stored = append(c.stored, entry)
	return nil
}

func salesPipeline() (*Pipeline, *fakeStore, *fakeCompleter, *exactCache) {
	store := &fakeStore{
		schemas: map[string]string{"sales": "Table 'sales' has columns: artist (VARCHAR), year (BIGINT)."},
		result:  query.Result{Columns: []string{"year"}, Rows: [][]any{{int64(2000)}}},
	}
	completer := &fakeCompleter{responses: []string{
		"SQLQuery: SELECT year FROM sales WHERE artist='X' SQLResult:",
		"2000",
	}}
	cache := &exactCache{}
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return &Pipeline{
		Selector:  &fakeSelector{tables: []selector.TableSchema{{TableName: "sales", ContextStr: "columns: artist, year"}}},
		Rows:      &fakeRows{rows: map[string][]string{"sales": {"('X', 2000)"}}},
		Store:     store,
		Completer: completer,
		Cache:     cache,
		Config:    Config{CacheThreshold: 0.1},
		Clock:     func() time.Time { return fixed },
	}, store, completer, cache
}

func TestRunEndToEnd(t *testing.T) {
	p, store, completer, cache := salesPipeline()

	answer, err := p.Run(context.Background(), "What year was X signed?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if answer.Text != "2000" {
		t.Fatalf("Run().Text = %q, want 2000", answer.Text)
	}
	if answer.SQL != "SELECT year FROM sales WHERE artist='X'" {
		t.Fatalf("Run().SQL = %q", answer.SQL)
	}
	if len(store.executed) != 1 || store.executed[0] != answer.SQL {
		t.Fatalf("executed = %v", store.executed)
	}

	wantContext := "Table 'sales' has columns: artist (VARCHAR), year (BIGINT)." +
		" The table description is: columns: artist, year" +
		"\nHere are some relevant example rows (values in the same order as columns above):\n" +
		"('X', 2000)\n"
	if answer.Context != wantContext {
		t.Fatalf("Run().Context = %q, want %q", answer.Context, wantContext)
	}
	if !strings.Contains(completer.prompts[0], wantContext) || !strings.Contains(completer.prompts[0], "duckdb") {
		t.Fatalf("text-to-sql prompt = %q", completer.prompts[0])
	}
	if !strings.Contains(completer.prompts[1], "SQL Response: [(2000,)]") {
		t.Fatalf("synthesis prompt = %q", completer.prompts[1])
	}
	if len(cache.stored) != 2 {
		t.Fatalf("stored %d cache entries, want 2", len(cache.stored))
	}
	for _, entry := range cache.stored {
		if entry.Metadata.GeneratedAt.IsZero() {
			t.Fatalf("cache entry without timestamp: %+v", entry)
		}
	}
	// Raw model output is cached; extraction runs after the cache.
	if cache.stored[0].Response != "SQLQuery: SELECT year FROM sales WHERE artist='X' SQLResult:" {
		t.Fatalf("cached sql response = %q", cache.stored[0].Response)
	}
}

func TestRunCacheHitSkipsCompletion(t *testing.T) {
	p, _, completer, cache := salesPipeline()
	ctx := context.Background()
	if _, err := p.Run(ctx, "What year was X signed?"); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	cached := cache.stored[1]
	cached.Response = "  cached answer  "
	cache.entries[cached.Prompt] = cached
	completer.prompts = nil

	answer, err := p.Run(ctx, "What year was X signed?")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(completer.prompts) != 0 {
		t.Fatalf("completer called %d times on cache hit", len(completer.prompts))
	}
	if answer.Text != "  cached answer  " {
		t.Fatalf("Run().Text = %q, want cached text verbatim", answer.Text)
	}
	if len(cache.stored) != 2 {
		t.Fatalf("cache hit stored new entries: %d", len(cache.stored))
	}
}

func TestRunBlocksAreBlankLineSeparated(t *testing.T) {
	p, store, _, _ := salesPipeline()
	store.schemas["artists"] = "Table 'artists' has columns: name (VARCHAR)."
	p.Selector = &fakeSelector{tables: []selector.TableSchema{
		{TableName: "sales", ContextStr: "columns: artist, year"},
		{TableName: "artists"},
	}}
	rows := &fakeRows{rows: map[string][]string{"sales": {"('X', 2000)", "('Y', 2001)", "('Z', 2002)"}}}
	p.Rows = rows

	answer, err := p.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	blocks := strings.Split(answer.Context, "\n\n")
	if len(blocks) != 2 {
		t.Fatalf("context blocks = %q", answer.Context)
	}
	if strings.Contains(blocks[0], "('Z', 2002)") {
		t.Fatalf("more than %d rows in block: %q", DefaultRowTopK, blocks[0])
	}
	if blocks[1] != "Table 'artists' has columns: name (VARCHAR)." {
		t.Fatalf("block without summary or rows = %q", blocks[1])
	}
	if rows.calls[0] != DefaultRowTopK {
		t.Fatalf("row k = %d", rows.calls[0])
	}
}

func TestRunClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Pipeline, *fakeStore, *fakeCompleter, *exactCache)
		kind   error
		stage  Stage
	}{
		{
			name:   "selector",
			mutate: func(p *Pipeline, _ *fakeStore, _ *fakeCompleter, _ *exactCache) { p.Selector = &fakeSelector{err: errors.New("down")} },
			kind:   ErrRetrieval,
			stage:  StageRetrieveTables,
		},
		{
			name:   "unknown table",
			mutate: func(_ *Pipeline, s *fakeStore, _ *fakeCompleter, _ *exactCache) { delete(s.schemas, "sales") },
			kind:   ErrRetrieval,
			stage:  StageRetrieveTables,
		},
		{
			name:   "model",
			mutate: func(_ *Pipeline, _ *fakeStore, c *fakeCompleter, _ *exactCache) { c.err = errors.New("429") },
			kind:   ErrGeneration,
			stage:  StageGenerateSQL,
		},
		{
			name:   "malformed sql",
			mutate: func(_ *Pipeline, s *fakeStore, _ *fakeCompleter, _ *exactCache) { s.err = errors.New("syntax error") },
			kind:   ErrExecution,
			stage:  StageGenerateResponse,
		},
		{
			name:   "cache check",
			mutate: func(_ *Pipeline, _ *fakeStore, _ *fakeCompleter, c *exactCache) { c.checkErr = errors.New("refused") },
			kind:   ErrCacheUnavailable,
			stage:  StageGenerateSQL,
		},
		{
			name:   "cache store",
			mutate: func(_ *Pipeline, _ *fakeStore, _ *fakeCompleter, c *exactCache) { c.storeErr = errors.New("refused") },
			kind:   ErrCacheUnavailable,
			stage:  StageGenerateSQL,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, completer, cache := salesPipeline()
			tt.mutate(p, store, completer, cache)

			_, err := p.Run(context.Background(), "q")
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Run() error = %v, want %v", err, tt.kind)
			}
			var stageErr *StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != tt.stage {
				t.Fatalf("Run() stage = %+v, want %s", stageErr, tt.stage)
			}
		})
	}
}

func TestRunCacheFailOpen(t *testing.T) {
	p, _, completer, cache := salesPipeline()
	cache.checkErr = errors.New("refused")
	cache.storeErr = errors.New("refused")
	p.Config.CacheFailOpen = true

	answer, err := p.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if answer.Text != "2000" || len(completer.prompts) != 2 {
		t.Fatalf("Run() = %+v after %d completions", answer, len(completer.prompts))
	}
}

func TestRunWithoutCache(t *testing.T) {
	p, _, _, _ := salesPipeline()
	p.Cache = nil
	if _, err := p.Run(context.Background(), "q"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := (&Pipeline{}).Validate(); err == nil {
		t.Fatal("expected Validate() error")
	}
}

func TestStageString(t *testing.T) {
	if StageGenerateSQL.String() != "generate_sql" || stageDone.String() != "done" {
		t.Fatalf("String() = %q, %q", StageGenerateSQL, stageDone)
	}
}
