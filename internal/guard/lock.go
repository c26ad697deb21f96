// Package guard holds the concurrency controls shared by ingestion and
// analysis: the store lock, the per-conversation debounce set and the
// busy gauge.
package guard

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// StoreLock serialises read-modify-write sequences against the store.
// Waiters are admitted in FIFO order.
type StoreLock struct {
	sem *semaphore.Weighted
}

// NewStoreLock creates an unlocked StoreLock.
func NewStoreLock() *StoreLock {
	return &StoreLock{sem: semaphore.NewWeighted(1)}
}

// WithLock runs fn while holding the lock. The lock is released when fn
// returns or panics.
func (l *StoreLock) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	defer l.sem.Release(1)
	return fn(ctx)
}
