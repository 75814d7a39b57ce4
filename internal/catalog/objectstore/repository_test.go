package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/duckmesh/tableqa/internal/catalog"
	"github.com/duckmesh/tableqa/internal/storage"
	"github.com/duckmesh/tableqa/internal/storage/local"
)

func newRepository(t *testing.T) (*Repository, *local.Store) {
	t.Helper()
	store, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("local.New() error = %v", err)
	}
	repo, err := NewRepository(store, "WikiTableQuestions_TableInfo")
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	return repo, store
}

func TestSaveWritesOriginalLayout(t *testing.T) {
	repo, store := newRepository(t)
	ctx := context.Background()

	record, err := repo.Save(ctx, 3, catalog.TableInfo{TableName: "Olympic_Medals", TableSummary: "Medal counts per nation"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if record.Index != 3 || record.Info.TableName != "Olympic_Medals" {
		t.Fatalf("Save() = %+v", record)
	}

	body, err := storage.ReadAll(ctx, store, "WikiTableQuestions_TableInfo/3_Olympic_Medals.json")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	want := `{"table_name":"Olympic_Medals","table_summary":"Medal counts per nation"}`
	if string(body) != want {
		t.Fatalf("stored json = %s, want %s", body, want)
	}
}

func TestSaveIsIdempotentPerIndex(t *testing.T) {
	repo, _ := newRepository(t)
	ctx := context.Background()

	if _, err := repo.Save(ctx, 0, catalog.TableInfo{TableName: "First", TableSummary: "a"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	record, err := repo.Save(ctx, 0, catalog.TableInfo{TableName: "Second", TableSummary: "b"})
	if err != nil {
		t.Fatalf("Save() second error = %v", err)
	}
	if record.Info.TableName != "First" {
		t.Fatalf("TableName = %q, want First", record.Info.TableName)
	}
	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("List() len = %d, want 1", len(records))
	}
}

func TestGetByIndexNotFoundAndPrefixBoundaries(t *testing.T) {
	repo, _ := newRepository(t)
	ctx := context.Background()

	if _, err := repo.GetByIndex(ctx, 1); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("GetByIndex() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Save(ctx, 10, catalog.TableInfo{TableName: "Ten"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := repo.GetByIndex(ctx, 1); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("GetByIndex(1) error = %v, want ErrNotFound", err)
	}
	record, err := repo.GetByIndex(ctx, 10)
	if err != nil {
		t.Fatalf("GetByIndex(10) error = %v", err)
	}
	if record.Info.TableName != "Ten" {
		t.Fatalf("GetByIndex(10) = %+v", record)
	}
}

func TestGetByIndexAmbiguous(t *testing.T) {
	repo, store := newRepository(t)
	ctx := context.Background()

	for _, key := range []string{"WikiTableQuestions_TableInfo/2_A.json", "WikiTableQuestions_TableInfo/2_B.json"} {
		if _, err := storage.PutBytes(ctx, store, key, []byte(`{"table_name":"x","table_summary":"y"}`), "application/json"); err != nil {
			t.Fatalf("PutBytes() error = %v", err)
		}
	}
	if _, err := repo.GetByIndex(ctx, 2); !errors.Is(err, catalog.ErrAmbiguous) {
		t.Fatalf("GetByIndex() error = %v, want ErrAmbiguous", err)
	}
	if _, err := repo.List(ctx); !errors.Is(err, catalog.ErrAmbiguous) {
		t.Fatalf("List() error = %v, want ErrAmbiguous", err)
	}
}

func TestListOrdersByIndex(t *testing.T) {
	repo, store := newRepository(t)
	ctx := context.Background()

	for index, name := range map[int]string{11: "Eleven", 2: "Two", 0: "Zero"} {
		if _, err := repo.Save(ctx, index, catalog.TableInfo{TableName: name}); err != nil {
			t.Fatalf("Save(%d) error = %v", index, err)
		}
	}
	if _, err := storage.PutBytes(ctx, store, "WikiTableQuestions_TableInfo/notes.txt", []byte("x"), "text/plain"); err != nil {
		t.Fatalf("PutBytes() error = %v", err)
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"Zero", "Two", "Eleven"}
	if len(records) != len(want) {
		t.Fatalf("List() = %+v", records)
	}
	for i, name := range want {
		if records[i].Info.TableName != name {
			t.Fatalf("List()[%d] = %q, want %q", i, records[i].Info.TableName, name)
		}
	}
	if err := repo.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}
