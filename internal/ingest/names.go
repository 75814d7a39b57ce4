package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/duckmesh/tableqa/internal/catalog"
	"github.com/duckmesh/tableqa/internal/observability"
)

// MaxNameAttempts bounds how often the summarizer is asked for a name that
// is not already taken.
const MaxNameAttempts = 3

type Summarizer interface {
	Summarize(ctx context.Context, tableSample string, excluded []string) (catalog.TableInfo, error)
}

// NameSet holds the table names accepted so far in one ingestion run.
type NameSet map[string]struct{}

func (n NameSet) Has(name string) bool {
	_, ok := n[name]
	return ok
}

func (n NameSet) Add(name string) {
	n[name] = struct{}{}
}

func (n NameSet) Sorted() []string {
	out := make([]string, 0, len(n))
	for name := range n {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveTableInfo asks the summarizer for a table summary whose name is not
// in names. After MaxNameAttempts collisions the last candidate is suffixed
// with "_<index>". The accepted name is added to names.
func ResolveTableInfo(ctx context.Context, summarizer Summarizer, sample string, index int, names NameSet, logger *slog.Logger) (catalog.TableInfo, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var info catalog.TableInfo
	for attempt := 1; attempt <= MaxNameAttempts; attempt++ {
		candidate, err := summarizer.Summarize(ctx, sample, names.Sorted())
		if err != nil {
			return catalog.TableInfo{}, fmt.Errorf("summarize table %d: %w", index, err)
		}
		info = candidate
		if !names.Has(info.TableName) {
			names.Add(info.TableName)
			return info, nil
		}
		logger.InfoContext(ctx, "table name already taken",
			slog.Int("table_index", index),
			slog.String("table_name", info.TableName),
			slog.Int("attempt", attempt),
		)
	}

	fallback := fmt.Sprintf("%s_%d", info.TableName, index)
	logger.WarnContext(ctx, "assigned fallback table name",
		slog.Int("table_index", index),
		slog.String("candidate", info.TableName),
		slog.String("table_name", fallback),
	)
	observability.IncNameFallback()
	info.TableName = fallback
	names.Add(fallback)
	return info, nil
}
