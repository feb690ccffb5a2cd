package migration

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// DistributedLock provides mutual exclusion for migration operations across
// multiple processes or nodes.
type DistributedLock interface {
	// Acquire obtains the lock for the given key. The returned release function
	// must be called to release the lock.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PostgresLock implements DistributedLock using PostgreSQL session advisory
// locks. Lock and unlock run on one dedicated connection, since advisory
// locks belong to the session that took them.
type PostgresLock struct {
	db *sqlx.DB
}

// NewPostgresLock creates a new PostgresLock.
func NewPostgresLock(db *sqlx.DB) *PostgresLock {
	return &PostgresLock{db: db}
}

// Acquire blocks until the advisory lock for key is held.
func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		_ = conn.Close()
	}
	return release, nil
}

// LocalLock implements DistributedLock with in-process mutexes, one per key.
// It serves SQLite, which has no advisory locks and is single-writer anyway.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLock creates a new LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]chan struct{})}
}

// Acquire waits for key to be free or for ctx to be done.
func (l *LocalLock) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire local lock: %w", err)
	}

	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire local lock %q: %w", key, ctx.Err())
	}
}

// hashLockKey produces a stable int64 hash from a string key for use with
// pg_advisory_lock. Uses FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211 // FNV prime
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}
