package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/duckmesh/tableqa/internal/catalog"
	"github.com/duckmesh/tableqa/internal/observability"
	"github.com/duckmesh/tableqa/internal/query"
	"github.com/duckmesh/tableqa/internal/query/duckdb"
	"github.com/duckmesh/tableqa/internal/storage"
)

const DefaultPreviewRows = 10

// Tables is the relational side of ingestion.
type Tables interface {
	HasTable(ctx context.Context, table string) (bool, error)
	PreviewCSV(ctx context.Context, path string, n int) (query.Result, error)
	CreateTableFromCSV(ctx context.Context, table, path string) error
}

type Config struct {
	SourcePrefix  string
	PreviewRows   int
	WorkDirPrefix string
}

// Service loads every CSV under the source prefix into the relational store
// and records one catalog entry per table. A table already in the catalog is
// never summarized again. Run must not be called concurrently.
type Service struct {
	Catalog    catalog.Repository
	Sources    storage.ObjectStore
	Tables     Tables
	Summarizer Summarizer
	Config     Config
	Logger     *slog.Logger
}

func (s *Service) Run(ctx context.Context) ([]catalog.TableInfo, error) {
	s.ensureDefaults()
	if s.Catalog == nil || s.Sources == nil || s.Tables == nil || s.Summarizer == nil {
		return nil, fmt.Errorf("ingest service is not fully configured")
	}

	sources, err := s.listSources(ctx)
	if err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp("", s.Config.WorkDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("create ingest work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	names := NameSet{}
	infos := make([]catalog.TableInfo, 0, len(sources))
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		localPath, sample, err := s.stage(ctx, source.Key, workDir)
		if err != nil {
			// Unparseable sources are skipped and do not consume an index.
			observability.ObserveIngestTable("failed")
			s.Logger.WarnContext(ctx, "skipping source file", slog.String("key", source.Key), slog.Any("error", err))
			continue
		}

		index := len(infos)
		info, err := s.tableInfo(ctx, index, sample, names)
		if err != nil {
			return nil, err
		}
		if err := s.ensureTable(ctx, info.TableName, localPath); err != nil {
			return nil, err
		}
		_ = os.Remove(localPath)
		infos = append(infos, info)
	}

	s.Logger.InfoContext(ctx, "ingestion finished", slog.Int("tables", len(infos)), slog.Int("sources", len(sources)))
	return infos, nil
}

func (s *Service) ensureDefaults() {
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.Config.PreviewRows <= 0 {
		s.Config.PreviewRows = DefaultPreviewRows
	}
	if strings.TrimSpace(s.Config.WorkDirPrefix) == "" {
		s.Config.WorkDirPrefix = "tableqa-ingest-*"
	}
}

func (s *Service) listSources(ctx context.Context) ([]storage.ObjectInfo, error) {
	prefix := strings.Trim(strings.TrimSpace(s.Config.SourcePrefix), "/")
	if prefix != "" {
		prefix += "/"
	}
	objects, err := s.Sources.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}
	out := make([]storage.ObjectInfo, 0, len(objects))
	for _, object := range objects {
		if strings.EqualFold(path.Ext(object.Key), ".csv") {
			out = append(out, object)
		}
	}
	return out, nil
}

func (s *Service) stage(ctx context.Context, key, workDir string) (string, string, error) {
	localPath, err := duckdb.StageObject(ctx, s.Sources, key, workDir)
	if err != nil {
		return "", "", err
	}
	preview, err := s.Tables.PreviewCSV(ctx, localPath, s.Config.PreviewRows)
	if err != nil {
		_ = os.Remove(localPath)
		return "", "", err
	}
	sample, err := RenderPreview(preview)
	if err != nil {
		_ = os.Remove(localPath)
		return "", "", err
	}
	return localPath, sample, nil
}

func (s *Service) tableInfo(ctx context.Context, index int, sample string, names NameSet) (catalog.TableInfo, error) {
	record, err := s.Catalog.GetByIndex(ctx, index)
	if err == nil {
		names.Add(record.Info.TableName)
		return record.Info, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return catalog.TableInfo{}, fmt.Errorf("load table info %d: %w", index, err)
	}

	info, err := ResolveTableInfo(ctx, s.Summarizer, sample, index, names, s.Logger)
	if err != nil {
		return catalog.TableInfo{}, err
	}
	record, err = s.Catalog.Save(ctx, index, info)
	if err != nil {
		return catalog.TableInfo{}, fmt.Errorf("save table info %d: %w", index, err)
	}
	s.Logger.InfoContext(ctx, "table summarized",
		slog.Int("table_index", index),
		slog.String("table_name", record.Info.TableName),
	)
	return record.Info, nil
}

func (s *Service) ensureTable(ctx context.Context, table, localPath string) error {
	exists, err := s.Tables.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		observability.ObserveIngestTable("skipped")
		s.Logger.DebugContext(ctx, "table already exists", slog.String("table", table))
		return nil
	}
	if err := s.Tables.CreateTableFromCSV(ctx, table, localPath); err != nil {
		return err
	}
	observability.ObserveIngestTable("ingested")
	s.Logger.InfoContext(ctx, "table created", slog.String("table", table))
	return nil
}

// RenderPreview writes rows as CSV with a leading unnamed row-number column,
// the way a data frame prints its head.
func RenderPreview(result query.Result) (string, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(append([]string{""}, result.Columns...)); err != nil {
		return "", fmt.Errorf("render preview header: %w", err)
	}
	for i, row := range result.Rows {
		record := make([]string, 0, len(row)+1)
		record = append(record, strconv.Itoa(i))
		for _, value := range row {
			record = append(record, previewValue(value))
		}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("render preview row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	return buf.String(), nil
}

func previewValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	default:
		return fmt.Sprint(typed)
	}
}
