package catalog

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound  = errors.New("catalog: not found")
	ErrAmbiguous = errors.New("catalog: more than one record for index")
)

// TableInfo describes one ingested table. TableName is unique across the catalog.
type TableInfo struct {
	TableName    string `json:"table_name"`
	TableSummary string `json:"table_summary"`
}

type Record struct {
	Index     int
	Info      TableInfo
	CreatedAt time.Time
}

type Repository interface {
	HealthCheck(ctx context.Context) error
	GetByIndex(ctx context.Context, index int) (Record, error)
	// Save stores info for index unless a record already exists, and returns
	// whichever record is stored afterwards.
	Save(ctx context.Context, index int, info TableInfo) (Record, error)
	List(ctx context.Context) ([]Record, error)
}

func Infos(records []Record) []TableInfo {
	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	out := make([]TableInfo, 0, len(sorted))
	for _, record := range sorted {
		out = append(out, record.Info)
	}
	return out
}
