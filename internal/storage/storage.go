package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns the objects whose key starts with prefix, sorted by key.
	// Returned keys are relative to the store root.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// FileFetcher is implemented by stores that can write an object straight to
// a local file.
type FileFetcher interface {
	FetchFile(ctx context.Context, key, localPath string) error
}

func PutBytes(ctx context.Context, store ObjectStore, key string, body []byte, contentType string) (ObjectInfo, error) {
	return store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), PutOptions{ContentType: contentType})
}

func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return body, nil
}
