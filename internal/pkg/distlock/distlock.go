// Package distlock provides cross-process mutual exclusion for campaign
// dispatch. A process that holds the lock for a campaign key is the only one
// allowed to run its dispatch loop.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Extend when the lock was lost.
var ErrNotHeld = errors.New("distlock: lock not held")

// DistLock is the interface for distributed locking.
// A lock instance belongs to one owner; create one per acquisition.
type DistLock interface {
	// Acquire tries to acquire the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire and must be refreshed.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Factory creates a fresh lock for key.
type Factory func(key string) DistLock

// RedisFactory returns a Factory producing Redis locks with ttl.
func RedisFactory(client *redis.Client, ttl time.Duration) Factory {
	return func(key string) DistLock { return NewRedisLock(client, key, ttl) }
}

// PostgresFactory returns a Factory producing advisory locks on db.
func PostgresFactory(db *sql.DB) Factory {
	return func(key string) DistLock { return NewPGAdvisoryLock(db, key) }
}

// PGAdvisoryLock implements DistLock with pg_try_advisory_lock.
//
// Advisory locks are session scoped, so the lock pins one pooled connection
// from Acquire until Release. If the process dies the session ends and
// Postgres drops the lock.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives a 64-bit lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire implements DistLock.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return true, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.lockID, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release implements DistLock. Releasing an unheld lock is a no-op.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	cerr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.lockID, err)
	}
	return cerr
}
