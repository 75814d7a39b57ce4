package duckdb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/duckmesh/tableqa/internal/storage"
)

// StageObject copies an object into dir so DuckDB can read it from disk.
func StageObject(ctx context.Context, store storage.ObjectStore, key, dir string) (string, error) {
	localPath := filepath.Join(dir, sanitizeFileComponent(path.Base(key)))
	if fetcher, ok := store.(storage.FileFetcher); ok {
		if err := fetcher.FetchFile(ctx, key, localPath); err != nil {
			return "", fmt.Errorf("fetch object %q: %w", key, err)
		}
		return localPath, nil
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	if err := writeFile(localPath, reader); err != nil {
		return "", fmt.Errorf("write local file %q: %w", localPath, err)
	}
	return localPath, nil
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return file.Close()
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" || value == "." {
		return "object"
	}
	return value
}
