// Package memory holds in-process store implementations for development and
// tests. The mutex stands in for the backing store's atomic conditional
// write; cross-process deployments must use the Postgres stores.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// LockStore implements ingest.LockStore in memory.
type LockStore struct {
	clock ingest.Clock

	mu    sync.Mutex
	locks map[string]ingest.Lock
}

// NewLockStore creates an in-memory lock store.
func NewLockStore(clock ingest.Clock) *LockStore {
	return &LockStore{
		clock: clock,
		locks: make(map[string]ingest.Lock),
	}
}

// TryAcquire inserts the lock if absent or steals it if expired; the check
// and the write happen under one critical section so exactly one concurrent
// caller wins.
func (s *LockStore) TryAcquire(_ context.Context, name, holder string, ttl time.Duration) (ingest.Lock, bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locks[name]; ok && existing.ExpiresAt.After(now) {
		return ingest.Lock{}, false, nil
	}
	lock := ingest.Lock{Name: name, Holder: holder, ExpiresAt: now.Add(ttl)}
	s.locks[name] = lock
	return lock, true, nil
}

// Release removes the lock when holder still owns it; otherwise a no-op.
func (s *LockStore) Release(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locks[name]; ok && existing.Holder == holder {
		delete(s.locks, name)
	}
	return nil
}

// Holder reports the current holder of name, if any. Test helper.
func (s *LockStore) Holder(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[name]
	if !ok {
		return "", false
	}
	return lock.Holder, true
}
