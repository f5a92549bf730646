package store

import (
	"context"
	"sync"
	"time"
)

type mark struct {
	at  time.Time
	ttl time.Duration
}

// memoryStore is an unbounded in-memory MarkStore. Nothing is evicted unless
// Prune is called.
type memoryStore struct {
	mu     sync.Mutex
	marks  map[string]mark
	closed bool
}

// NewMemory returns an in-memory MarkStore.
func NewMemory() MarkStore {
	return &memoryStore{marks: make(map[string]mark)}
}

func (s *memoryStore) Get(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	m, ok := s.marks[key]
	return m.at, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.marks[key] = mark{at: at, ttl: ttl}
	return nil
}

func (s *memoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for k, m := range s.marks {
		if expired(m.at, m.ttl, now) {
			delete(s.marks, k)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.marks = nil
	return nil
}

// ─── Run history ──────────────────────────────────────────────────────────────

// memoryRunLog keeps the most recent runs in a fixed-size ring.
type memoryRunLog struct {
	mu   sync.RWMutex
	runs []*RunRecord
	next int
	full bool
}

// NewMemoryRunLog returns a RunLog holding at most capacity runs.
func NewMemoryRunLog(capacity int) RunLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &memoryRunLog{runs: make([]*RunRecord, capacity)}
}

func (l *memoryRunLog) SaveRun(_ context.Context, rec *RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *rec
	l.runs[l.next] = &cp
	l.next = (l.next + 1) % len(l.runs)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

func (l *memoryRunLog) ListRuns(_ context.Context, limit int) ([]*RunRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.full {
		size = len(l.runs)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]*RunRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.next - 1 - i + len(l.runs)) % len(l.runs)
		out = append(out, l.runs[idx])
	}
	return out, nil
}
