package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/tableqa/internal/catalog"
)

func TestSaveInsertsAndReturnsStoredRecord(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO table_info (table_index, table_name, table_summary)
VALUES ($1, $2, $3)
ON CONFLICT (table_index) DO NOTHING`)).
		WithArgs(4, "Album_Sales", "Album sales by year").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT table_index, table_name, table_summary, created_at
FROM table_info
WHERE table_index = $1`)).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"table_index", "table_name", "table_summary", "created_at"}).
			AddRow(4, "Album_Sales", "Album sales by year", now))

	record, err := repo.Save(context.Background(), 4, catalog.TableInfo{TableName: "Album_Sales", TableSummary: "Album sales by year"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if record.Index != 4 || record.Info.TableName != "Album_Sales" {
		t.Fatalf("Save() = %+v", record)
	}
	if !record.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", record.CreatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestSaveConflictKeepsExistingRecord(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO table_info`).
		WithArgs(1, "New_Name", "new").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT table_index, table_name, table_summary, created_at`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"table_index", "table_name", "table_summary", "created_at"}).
			AddRow(1, "Original_Name", "original", now))

	record, err := repo.Save(context.Background(), 1, catalog.TableInfo{TableName: "New_Name", TableSummary: "new"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if record.Info.TableName != "Original_Name" {
		t.Fatalf("TableName = %q, want Original_Name", record.Info.TableName)
	}
	assertSQLMock(t, mock)
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	if _, err := repo.Save(context.Background(), -1, catalog.TableInfo{TableName: "x"}); err == nil {
		t.Fatal("expected negative index error")
	}
	if _, err := repo.Save(context.Background(), 0, catalog.TableInfo{}); err == nil {
		t.Fatal("expected missing name error")
	}
	assertSQLMock(t, mock)
}

func TestGetByIndexReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(`FROM table_info`).
		WithArgs(9).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByIndex(context.Background(), 9)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("GetByIndex() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestListOrdersByIndex(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY table_index ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"table_index", "table_name", "table_summary", "created_at"}).
			AddRow(0, "Players", "roster", now).
			AddRow(1, "Teams", "teams", now))

	records, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 || records[0].Info.TableName != "Players" || records[1].Index != 1 {
		t.Fatalf("List() = %+v", records)
	}
	infos := catalog.Infos(records)
	if len(infos) != 2 || infos[1].TableName != "Teams" {
		t.Fatalf("Infos() = %+v", infos)
	}
	assertSQLMock(t, mock)
}

func TestListWrapsQueryError(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(`FROM table_info`).WillReturnError(errors.New("boom"))

	if _, err := repo.List(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
