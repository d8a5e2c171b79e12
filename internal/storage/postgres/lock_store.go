// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// querier is the subset of pgxpool.Pool the stores need; pgxmock satisfies it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// LockStore implements ingest.LockStore on a job_locks table:
//
//	CREATE TABLE job_locks (
//		name TEXT PRIMARY KEY,
//		holder TEXT NOT NULL,
//		expires_at TIMESTAMPTZ NOT NULL
//	);
type LockStore struct {
	pool  querier
	clock ingest.Clock
}

// NewLockStore creates a LockStore from a DSN.
func NewLockStore(ctx context.Context, dsn string, clock ingest.Clock) (*LockStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LockStore{pool: pool, clock: clock}, nil
}

// NewLockStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewLockStoreWithPool(pool querier, clock ingest.Clock) (*LockStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LockStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *LockStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAcquire is one atomic conditional upsert: the insert wins when no row
// exists, the update wins only when the existing row has expired. The store
// guarantees that exactly one concurrent caller gets a row back.
func (s *LockStore) TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (ingest.Lock, bool, error) {
	if name == "" || holder == "" {
		return ingest.Lock{}, false, fmt.Errorf("lock name and holder are required")
	}
	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	query := `
INSERT INTO job_locks (name, holder, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE
SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
WHERE job_locks.expires_at <= $4
RETURNING name, holder, expires_at`

	var lock ingest.Lock
	err := s.pool.QueryRow(ctx, query, name, holder, expiresAt, now).
		Scan(&lock.Name, &lock.Holder, &lock.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Lock{}, false, nil
	}
	if err != nil {
		// A store failure is never treated as a successful acquisition.
		return ingest.Lock{}, false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	return lock, true, nil
}

// Release deletes the lock row if holder still owns it. Safe to call after
// the lock expired or was stolen.
func (s *LockStore) Release(ctx context.Context, name, holder string) error {
	query := `DELETE FROM job_locks WHERE name = $1 AND holder = $2`
	if _, err := s.pool.Exec(ctx, query, name, holder); err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	return nil
}
