package store

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLRUSize bounds the LRU backend when no size is configured.
const DefaultLRUSize = 10000

// lruStore is a bounded MarkStore. The least recently used marks are evicted
// once size is reached. Each mark keeps its own ttl, so long cooldowns are
// honoured; expired marks are dropped by Prune.
type lruStore struct {
	cache  *lru.Cache[string, mark]
	closed atomic.Bool
}

// NewLRU returns a MarkStore holding at most size marks.
func NewLRU(size int) MarkStore {
	if size <= 0 {
		size = DefaultLRUSize
	}
	cache, _ := lru.New[string, mark](size)
	return &lruStore{cache: cache}
}

func (s *lruStore) Get(_ context.Context, key string) (time.Time, bool, error) {
	if s.closed.Load() {
		return time.Time{}, false, ErrClosed
	}
	m, ok := s.cache.Get(key)
	return m.at, ok, nil
}

func (s *lruStore) Set(_ context.Context, key string, at time.Time, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.cache.Add(key, mark{at: at, ttl: ttl})
	return nil
}

func (s *lruStore) Prune(_ context.Context, now time.Time) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	for _, k := range s.cache.Keys() {
		m, ok := s.cache.Peek(k)
		if ok && expired(m.at, m.ttl, now) {
			s.cache.Remove(k)
			n++
		}
	}
	return n, nil
}

func (s *lruStore) Close() error {
	s.closed.Store(true)
	s.cache.Purge()
	return nil
}
