package db

// Package db is the durable SQLite backend for admission marks and remediation
// run history. It lets dedup and cooldown state survive a restart.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/dr-kube/dr-kube/internal/store"
)

// migrations are applied in order; applied versions are tracked in schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS admission_marks (
    scope       TEXT NOT NULL,
    key         TEXT NOT NULL,
    marked_at   DATETIME NOT NULL,
    ttl_seconds INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (scope, key)
);

CREATE TABLE IF NOT EXISTS remediation_runs (
    run_id        TEXT PRIMARY KEY,
    issue_id      TEXT NOT NULL,
    category      TEXT NOT NULL DEFAULT '',
    namespace     TEXT NOT NULL DEFAULT '',
    resource      TEXT NOT NULL DEFAULT '',
    target_path   TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    error         TEXT NOT NULL DEFAULT '',
    retry_count   INTEGER NOT NULL DEFAULT 0,
    severity      TEXT NOT NULL DEFAULT '',
    change_url    TEXT NOT NULL DEFAULT '',
    changed_paths TEXT NOT NULL DEFAULT '[]',
    started_at    DATETIME NOT NULL,
    finished_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON remediation_runs(finished_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_issue_id ON remediation_runs(issue_id);
`,
	},
}

// Store is the SQLite persistence layer.
type Store interface {
	store.RunLog

	// Marks returns a MarkStore whose keys are isolated under scope.
	Marks(scope string) store.MarkStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Each connection to ":memory:" is its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Marks(scope string) store.MarkStore {
	return &markStore{db: s.db, scope: scope}
}

// ─── Admission marks ──────────────────────────────────────────────────────────

// markStore is a scoped view over admission_marks. Closing it does not close
// the shared database.
type markStore struct {
	db    *sql.DB
	scope string
}

func (m *markStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	var markedAt string
	err := m.db.QueryRowContext(ctx,
		`SELECT marked_at FROM admission_marks WHERE scope = ? AND key = ?`, m.scope, key,
	).Scan(&markedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get mark %s/%s: %w", m.scope, key, err)
	}
	t, err := parseTime(markedAt)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (m *markStore) Set(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	_, err := m.db.ExecContext(ctx, `
        INSERT INTO admission_marks(scope, key, marked_at, ttl_seconds) VALUES(?,?,?,?)
        ON CONFLICT(scope, key) DO UPDATE SET marked_at=excluded.marked_at, ttl_seconds=excluded.ttl_seconds
    `, m.scope, key, at.UTC().Format(time.RFC3339Nano), int64(ttl/time.Second))
	if err != nil {
		return fmt.Errorf("set mark %s/%s: %w", m.scope, key, err)
	}
	return nil
}

func (m *markStore) Prune(ctx context.Context, now time.Time) (int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT key, marked_at, ttl_seconds FROM admission_marks WHERE scope = ? AND ttl_seconds > 0`, m.scope)
	if err != nil {
		return 0, fmt.Errorf("scan marks: %w", err)
	}
	var stale []string
	for rows.Next() {
		var key, markedAt string
		var ttl int64
		if err := rows.Scan(&key, &markedAt, &ttl); err != nil {
			rows.Close()
			return 0, err
		}
		at, err := parseTime(markedAt)
		if err != nil {
			continue
		}
		if now.Sub(at) > time.Duration(ttl)*time.Second {
			stale = append(stale, key)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for _, key := range stale {
		if _, err := m.db.ExecContext(ctx,
			`DELETE FROM admission_marks WHERE scope = ? AND key = ?`, m.scope, key); err != nil {
			return 0, fmt.Errorf("delete mark %s/%s: %w", m.scope, key, err)
		}
	}
	return len(stale), nil
}

func (m *markStore) Close() error { return nil }

// ─── Remediation runs ─────────────────────────────────────────────────────────

func (s *sqliteStore) SaveRun(ctx context.Context, rec *store.RunRecord) error {
	paths, err := json.Marshal(rec.ChangedPaths)
	if err != nil {
		return fmt.Errorf("marshal changed paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO remediation_runs(run_id, issue_id, category, namespace, resource, target_path,
            status, error, retry_count, severity, change_url, changed_paths, started_at, finished_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(run_id) DO UPDATE SET
            status=excluded.status, error=excluded.error, retry_count=excluded.retry_count,
            severity=excluded.severity, change_url=excluded.change_url,
            changed_paths=excluded.changed_paths, finished_at=excluded.finished_at
    `,
		rec.RunID, rec.IssueID, rec.Category, rec.Namespace, rec.Resource, rec.TargetPath,
		rec.Status, rec.Error, rec.RetryCount, rec.Severity, rec.ChangeURL, string(paths),
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]*store.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, issue_id, category, namespace, resource, target_path, status, error,
               retry_count, severity, change_url, changed_paths, started_at, finished_at
        FROM remediation_runs ORDER BY finished_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*store.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*store.RunRecord, error) {
	rec := &store.RunRecord{}
	var paths, startedAt, finishedAt string
	err := row.Scan(&rec.RunID, &rec.IssueID, &rec.Category, &rec.Namespace, &rec.Resource,
		&rec.TargetPath, &rec.Status, &rec.Error, &rec.RetryCount, &rec.Severity, &rec.ChangeURL,
		&paths, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(paths), &rec.ChangedPaths)
	rec.StartedAt, _ = parseTime(startedAt)
	rec.FinishedAt, _ = parseTime(finishedAt)
	return rec, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
