package emulator

import (
	"context"
	"sync"
	"time"
)

// ResultStore keeps finished invocation results for a retention period so
// asynchronous invokers can poll for them.
type ResultStore struct {
	mu        sync.RWMutex
	retention time.Duration
	now       func() time.Time
	entries   map[string]*storedResult
}

type storedResult struct {
	result    *Result
	expiresAt time.Time
}

// NewResultStore creates a store. A non-positive retention keeps results for
// ten minutes.
func NewResultStore(retention time.Duration) *ResultStore {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &ResultStore{
		retention: retention,
		now:       time.Now,
		entries:   make(map[string]*storedResult),
	}
}

// Put stores r under its request id.
func (s *ResultStore) Put(r *Result) {
	s.mu.Lock()
	s.entries[r.RequestID] = &storedResult{result: r, expiresAt: s.now().Add(s.retention)}
	s.mu.Unlock()
}

// Get returns an unexpired result.
func (s *ResultStore) Get(requestID string) (*Result, bool) {
	s.mu.RLock()
	entry, ok := s.entries[requestID]
	s.mu.RUnlock()
	if !ok || s.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.result, true
}

// Len returns the number of stored results, expired ones included.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Cleanup drops expired results.
func (s *ResultStore) Cleanup() {
	now := s.now()
	s.mu.Lock()
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *ResultStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
