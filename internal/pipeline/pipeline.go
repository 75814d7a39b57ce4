package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmesh/tableqa/internal/llm"
	"github.com/duckmesh/tableqa/internal/nl2sql"
	"github.com/duckmesh/tableqa/internal/observability"
	"github.com/duckmesh/tableqa/internal/query"
	"github.com/duckmesh/tableqa/internal/selector"
	"github.com/duckmesh/tableqa/internal/semcache"
)

const (
	DefaultRowTopK        = 2
	DefaultCacheThreshold = 0.1
	DefaultSQLDialect     = "duckdb"

	tableDescriptionLabel = " The table description is: "
	exampleRowsHeader     = "\nHere are some relevant example rows (values in the same order as columns above):\n"
)

// Stage is one step of the answer pipeline. Stages run strictly in order.
type Stage int

const (
	StageRetrieveTables Stage = iota
	StageGenerateSQL
	StageGenerateResponse
	stageDone
)

func (s Stage) String() string {
	switch s {
	case StageRetrieveTables:
		return "retrieve_tables"
	case StageGenerateSQL:
		return "generate_sql"
	case StageGenerateResponse:
		return "generate_response"
	default:
		return "done"
	}
}

// TablesRetrieved is the output of StageRetrieveTables.
type TablesRetrieved struct {
	ContextStr string
	Query      string
}

// SQLGenerated is the output of StageGenerateSQL.
type SQLGenerated struct {
	SQL   string
	Query string
}

type Answer struct {
	Text    string
	SQL     string
	Context string
}

type TableSelector interface {
	Retrieve(ctx context.Context, query string) ([]selector.TableSchema, error)
}

type RowRetriever interface {
	RelevantRows(ctx context.Context, table, text string, k int) ([]string, error)
}

type Config struct {
	SQLDialect     string
	RowTopK        int
	CacheThreshold float64
	// CacheFailOpen treats cache errors as misses instead of failing the run.
	CacheFailOpen bool
}

// Pipeline answers a question by retrieving table context, generating SQL,
// executing it and synthesizing a response. It holds no per-query state and
// may serve concurrent queries when its collaborators allow it.
type Pipeline struct {
	Selector  TableSelector
	Rows      RowRetriever
	Store     query.Store
	Completer llm.Completer
	Cache     semcache.Cache
	Config    Config
	Logger    *slog.Logger
	Clock     func() time.Time
}

func (p *Pipeline) Validate() error {
	switch {
	case p.Selector == nil:
		return fmt.Errorf("table selector is required")
	case p.Rows == nil:
		return fmt.Errorf("row retriever is required")
	case p.Store == nil:
		return fmt.Errorf("relational store is required")
	case p.Completer == nil:
		return fmt.Errorf("completer is required")
	}
	return nil
}

// Run drives the query through every stage. The first failure ends the run.
func (p *Pipeline) Run(ctx context.Context, q string) (Answer, error) {
	if err := p.Validate(); err != nil {
		return Answer{}, err
	}
	logger := p.logger()

	var (
		retrieved TablesRetrieved
		generated SQLGenerated
		answer    Answer
	)
	for stage := StageRetrieveTables; stage != stageDone; {
		start := time.Now()
		var err error
		next := stageDone
		switch stage {
		case StageRetrieveTables:
			retrieved, err = p.retrieveTables(ctx, q)
			next = StageGenerateSQL
		case StageGenerateSQL:
			generated, err = p.generateSQL(ctx, retrieved)
			next = StageGenerateResponse
		case StageGenerateResponse:
			answer, err = p.generateResponse(ctx, generated)
		}
		observability.ObservePipelineStage(stage.String(), time.Since(start))
		if err != nil {
			observability.ObserveAsk("error")
			logger.WarnContext(ctx, "pipeline stage failed", slog.String("stage", stage.String()), slog.Any("error", err))
			return Answer{}, err
		}
		logger.DebugContext(ctx, "pipeline stage finished", slog.String("stage", stage.String()), slog.Duration("duration", time.Since(start)))
		stage = next
	}

	observability.ObserveAsk("ok")
	answer.SQL = generated.SQL
	answer.Context = retrieved.ContextStr
	return answer, nil
}

func (p *Pipeline) retrieveTables(ctx context.Context, q string) (TablesRetrieved, error) {
	tables, err := p.Selector.Retrieve(ctx, q)
	if err != nil {
		return TablesRetrieved{}, stageError(StageRetrieveTables, ErrRetrieval, err)
	}

	blocks := make([]string, 0, len(tables))
	for _, table := range tables {
		block, err := p.tableContext(ctx, q, table)
		if err != nil {
			return TablesRetrieved{}, stageError(StageRetrieveTables, ErrRetrieval, err)
		}
		blocks = append(blocks, block)
	}
	return TablesRetrieved{ContextStr: strings.Join(blocks, "\n\n"), Query: q}, nil
}

func (p *Pipeline) tableContext(ctx context.Context, q string, table selector.TableSchema) (string, error) {
	schema, err := p.Store.TableSchemaDescription(ctx, table.TableName)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(schema)
	if table.ContextStr != "" {
		b.WriteString(tableDescriptionLabel)
		b.WriteString(table.ContextStr)
	}

	rows, err := p.Rows.RelevantRows(ctx, table.TableName, q, p.rowTopK())
	if err != nil {
		return "", fmt.Errorf("relevant rows of %q: %w", table.TableName, err)
	}
	if len(rows) > 0 {
		b.WriteString(exampleRowsHeader)
		for _, row := range rows {
			b.WriteString(row)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func (p *Pipeline) generateSQL(ctx context.Context, in TablesRetrieved) (SQLGenerated, error) {
	prompt := nl2sql.TextToSQLPrompt(p.dialect(), in.ContextStr, in.Query)
	response, err := p.complete(ctx, StageGenerateSQL, prompt)
	if err != nil {
		return SQLGenerated{}, err
	}
	return SQLGenerated{SQL: nl2sql.ExtractSQL(response), Query: in.Query}, nil
}

func (p *Pipeline) generateResponse(ctx context.Context, in SQLGenerated) (Answer, error) {
	result, err := p.Store.Execute(ctx, query.Request{SQL: in.SQL})
	if err != nil {
		return Answer{}, stageError(StageGenerateResponse, ErrExecution, err)
	}
	prompt := nl2sql.ResponseSynthesisPrompt(in.Query, in.SQL, nl2sql.FormatRows(result.Rows))
	text, err := p.complete(ctx, StageGenerateResponse, prompt)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text}, nil
}

// complete returns a cached response for prompt when one is within the
// threshold, otherwise calls the model and caches its raw output.
func (p *Pipeline) complete(ctx context.Context, stage Stage, prompt string) (string, error) {
	cache := p.cache()

	entry, hit, err := cache.Check(ctx, prompt, p.threshold())
	if err != nil {
		observability.ObserveCacheLookup(stage.String(), "error")
		if !p.Config.CacheFailOpen {
			return "", stageError(stage, ErrCacheUnavailable, fmt.Errorf("check cache: %w", err))
		}
		p.logger().WarnContext(ctx, "cache check failed, treating as miss", slog.String("stage", stage.String()), slog.Any("error", err))
	} else if hit {
		observability.ObserveCacheLookup(stage.String(), "hit")
		return entry.Response, nil
	} else {
		observability.ObserveCacheLookup(stage.String(), "miss")
	}

	response, err := p.Completer.Complete(ctx, prompt)
	if err != nil {
		return "", stageError(stage, ErrGeneration, err)
	}

	if err := cache.Store(ctx, semcache.Entry{
		Prompt:   prompt,
		Response: response,
		Metadata: semcache.Metadata{GeneratedAt: p.now()},
	}); err != nil {
		if !p.Config.CacheFailOpen {
			return "", stageError(stage, ErrCacheUnavailable, fmt.Errorf("store cache entry: %w", err))
		}
		p.logger().WarnContext(ctx, "cache store failed", slog.String("stage", stage.String()), slog.Any("error", err))
	}
	return response, nil
}

func (p *Pipeline) cache() semcache.Cache {
	if p.Cache == nil {
		return semcache.Disabled{}
	}
	return p.Cache
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Clock == nil {
		return time.Now().UTC()
	}
	return p.Clock()
}

func (p *Pipeline) dialect() string {
	if strings.TrimSpace(p.Config.SQLDialect) == "" {
		return DefaultSQLDialect
	}
	return p.Config.SQLDialect
}

func (p *Pipeline) rowTopK() int {
	if p.Config.RowTopK <= 0 {
		return DefaultRowTopK
	}
	return p.Config.RowTopK
}

func (p *Pipeline) threshold() float64 {
	if p.Config.CacheThreshold < 0 {
		return DefaultCacheThreshold
	}
	return p.Config.CacheThreshold
}
