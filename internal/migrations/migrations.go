package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationTable = "tableqa_schema_migrations"
	// advisoryLockKey serializes migration runs across processes sharing a database.
	advisoryLockKey int64 = 0x7461626c657161
)

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

func NewRunnerFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// state is the source migrations alongside the versions already recorded.
type state struct {
	source  []migration
	applied []int64
}

func (s state) isApplied(version int64) bool {
	for _, applied := range s.applied {
		if applied == version {
			return true
		}
	}
	return false
}

// Up applies pending migrations oldest first. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	count := 0
	err := r.locked(ctx, db, func(conn *sql.Conn) error {
		current, err := r.load(ctx, conn)
		if err != nil {
			return err
		}
		for _, item := range current.source {
			if current.isApplied(item.Version) {
				continue
			}
			if steps > 0 && count >= steps {
				break
			}
			if err := step(ctx, conn, item.Version, item.UpSQL, true); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	count := 0
	err := r.locked(ctx, db, func(conn *sql.Conn) error {
		current, err := r.load(ctx, conn)
		if err != nil {
			return err
		}
		bySource := make(map[int64]migration, len(current.source))
		for _, item := range current.source {
			bySource[item.Version] = item
		}
		for i := len(current.applied) - 1; i >= 0 && count < steps; i-- {
			version := current.applied[i]
			item, ok := bySource[version]
			if !ok {
				return fmt.Errorf("applied migration %d is missing from source", version)
			}
			if err := step(ctx, conn, version, item.DownSQL, false); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Pending lists source versions that are not applied yet, oldest first.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) ([]int64, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	current, err := r.load(ctx, conn)
	if err != nil {
		return nil, err
	}
	pending := make([]int64, 0, len(current.source))
	for _, item := range current.source {
		if !current.isApplied(item.Version) {
			pending = append(pending, item.Version)
		}
	}
	return pending, nil
}

// locked runs fn on one pooled connection holding the session advisory lock.
func (r *Runner) locked(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// The lock must be released even when ctx is already cancelled.
		if _, unlockErr := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, advisoryLockKey); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("release migration lock: %w", unlockErr))
		}
	}()
	return fn(conn)
}

func (r *Runner) load(ctx context.Context, conn *sql.Conn) (state, error) {
	source, err := loadMigrations(r.fsys)
	if err != nil {
		return state{}, err
	}
	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return state{}, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT version FROM `+migrationTable+` ORDER BY version ASC`)
	if err != nil {
		return state{}, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := state{source: source}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return state{}, fmt.Errorf("scan version: %w", err)
		}
		current.applied = append(current.applied, version)
	}
	if err := rows.Err(); err != nil {
		return state{}, fmt.Errorf("iterate applied versions: %w", err)
	}
	return current, nil
}

// step runs one script and its bookkeeping row in a single transaction.
func step(ctx context.Context, conn *sql.Conn, version int64, script string, up bool) error {
	verb, bookkeeping := "apply", `INSERT INTO `+migrationTable+` (version) VALUES ($1)`
	if !up {
		verb, bookkeeping = "rollback", `DELETE FROM `+migrationTable+` WHERE version = $1`
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %d: %w", verb, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", verb, version, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record %s of migration %d: %w", verb, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %d: %w", verb, version, err)
	}
	return nil
}

// loadMigrations pairs NNNNNN_name.up.sql with its .down.sql, sorted by version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version}
			byVersion[version] = item
		}
		if matches[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
