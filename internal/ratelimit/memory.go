package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// SetClock overrides the store clock.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Allow records a hit for key and reports whether it fits within limit.
func (s *MemoryStore) Allow(_ context.Context, key string, limit Limit) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := windowKey(key, limit)
	w, ok := s.windows[k]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(limit.Period)}
		s.windows[k] = w
	}
	w.count++

	res := Result{Allowed: w.count <= limit.Count, Limit: limit.Count}
	if res.Allowed {
		res.Remaining = limit.Count - w.count
	} else {
		res.RetryAfter = w.resetAt.Sub(now)
	}
	return res, nil
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for k, w := range s.windows {
				if !now.Before(w.resetAt) {
					delete(s.windows, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
