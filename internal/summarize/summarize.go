package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/duckmesh/tableqa/internal/catalog"
	"github.com/duckmesh/tableqa/internal/llm"
	"github.com/duckmesh/tableqa/internal/nl2sql"
)

var ErrInvalidSummary = errors.New("summarize: invalid table summary")

// Summarizer asks the model for a table name and summary of a CSV sample.
type Summarizer struct {
	completer llm.Completer
	logger    *slog.Logger
}

func New(completer llm.Completer, logger *slog.Logger) (*Summarizer, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Summarizer{completer: completer, logger: logger}, nil
}

// Summarize returns the proposed TableInfo. excluded is passed to the model
// as a hint only; the result may still collide with it.
func (s *Summarizer) Summarize(ctx context.Context, tableSample string, excluded []string) (catalog.TableInfo, error) {
	prompt := nl2sql.TableSummaryPrompt(tableSample, excluded)
	raw, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return catalog.TableInfo{}, fmt.Errorf("generate table summary: %w", err)
	}
	info, err := Parse(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "unusable table summary", slog.String("response", raw), slog.Any("error", err))
		return catalog.TableInfo{}, err
	}
	return info, nil
}

// Parse decodes a {"table_name", "table_summary"} object from a model reply,
// tolerating a markdown fence or surrounding prose. Whitespace in the name
// becomes "_".
func Parse(raw string) (catalog.TableInfo, error) {
	body := llm.StripMarkdownFence(raw)
	var info catalog.TableInfo
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		start := strings.IndexByte(body, '{')
		end := strings.LastIndexByte(body, '}')
		if start < 0 || end <= start {
			return catalog.TableInfo{}, fmt.Errorf("%w: no JSON object in response", ErrInvalidSummary)
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &info); err != nil {
			return catalog.TableInfo{}, fmt.Errorf("%w: decode: %v", ErrInvalidSummary, err)
		}
	}
	info.TableName = strings.Join(strings.Fields(info.TableName), "_")
	info.TableSummary = strings.TrimSpace(info.TableSummary)
	if info.TableName == "" {
		return catalog.TableInfo{}, fmt.Errorf("%w: empty table_name", ErrInvalidSummary)
	}
	return info, nil
}
