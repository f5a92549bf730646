package store

// Package store holds the admission caches and remediation run history behind
// small interfaces so the admission logic does not depend on where marks live.
//
// Backends:
//   - memory: process-lifetime maps, no eviction
//   - lru:    bounded, least recently used marks evicted (hashicorp/golang-lru)
//   - sqlite: durable across restarts (see internal/db)

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// MarkStore remembers when a key was last marked.
type MarkStore interface {
	// Get returns the last mark time for key.
	Get(ctx context.Context, key string) (time.Time, bool, error)

	// Set records a mark. ttl bounds how long the mark must be retained;
	// zero means retain for the store's lifetime.
	Set(ctx context.Context, key string, at time.Time, ttl time.Duration) error

	// Prune drops marks whose ttl has elapsed at now and returns how many.
	Prune(ctx context.Context, now time.Time) (int, error)

	// Close releases resources.
	Close() error
}

// RunRecord summarizes one finished remediation workflow.
type RunRecord struct {
	RunID        string    `json:"run_id"`
	IssueID      string    `json:"issue_id"`
	Category     string    `json:"category"`
	Namespace    string    `json:"namespace"`
	Resource     string    `json:"resource"`
	TargetPath   string    `json:"target_path,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	RetryCount   int       `json:"retry_count"`
	Severity     string    `json:"severity,omitempty"`
	ChangeURL    string    `json:"change_url,omitempty"`
	ChangedPaths []string  `json:"changed_paths,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RunLog stores remediation run history.
type RunLog interface {
	// SaveRun appends a finished run.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// ListRuns returns up to limit runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}

// expired reports whether a mark set at `at` with ttl has lapsed by now.
func expired(at time.Time, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(at) > ttl
}
