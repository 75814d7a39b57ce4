package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duckmesh/tableqa/internal/config"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestDBConfigFrom(t *testing.T) {
	got := DBConfigFrom(config.CatalogConfig{
		DSN:             "postgres://example",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxIdleTime: time.Minute,
		ConnMaxLifetime: time.Hour,
	})
	if got.DSN != "postgres://example" || got.MaxOpenConns != 5 || got.MaxIdleConns != 2 {
		t.Fatalf("DBConfigFrom() = %+v", got)
	}
	if got.PingAttempts != defaultPingAttempts || got.PingBackoff != defaultPingBackoff {
		t.Fatalf("DBConfigFrom() ping = %+v", got)
	}
	if got.ConnMaxIdleTime != time.Minute || got.ConnMaxLifetime != time.Hour {
		t.Fatalf("DBConfigFrom() durations = %+v", got)
	}
}

func TestPingWithRetryRecovers(t *testing.T) {
	db := &flakyPinger{failures: 2}
	if err := pingWithRetry(context.Background(), db, 3, time.Millisecond); err != nil {
		t.Fatalf("pingWithRetry() error = %v", err)
	}
	if db.calls != 3 {
		t.Fatalf("ping calls = %d, want 3", db.calls)
	}
}

func TestPingWithRetryGivesUp(t *testing.T) {
	db := &flakyPinger{failures: 10}
	err := pingWithRetry(context.Background(), db, 2, time.Millisecond)
	if !errors.Is(err, errRefused) {
		t.Fatalf("pingWithRetry() error = %v", err)
	}
	if db.calls != 2 {
		t.Fatalf("ping calls = %d, want 2", db.calls)
	}
}

func TestPingWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pingWithRetry(ctx, &flakyPinger{failures: 10}, 5, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("pingWithRetry() error = %v", err)
	}
}

var errRefused = errors.New("connection refused")

type flakyPinger struct {
	failures int
	calls    int
}

func (f *flakyPinger) PingContext(context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errRefused
	}
	return nil
}
