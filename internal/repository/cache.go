// Package repository declares the storage-backend-agnostic contracts the
// rest of the tree programs against: a short-lived cache, a distributed
// lock. The persisted catalog repositories live in internal/catalog.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("repository: cache miss")

// ErrLockNotAcquired is returned by DistributedLock.Lock when the lock is
// already held by someone else.
var ErrLockNotAcquired = errors.New("repository: lock not acquired")

// ErrLockNotOwned is returned by Unlock/Extend when the caller's token does
// not match the current holder, or the lock has already expired.
var ErrLockNotOwned = errors.New("repository: lock not owned")

// Cache is a short-lived byte-value store keyed by string, used to take
// load off the catalog for hot lookups (release records). Implementations:
// cache/redis, cache/memory.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DistributedLock coordinates exclusive access to a named resource across
// process boundaries (e.g. pack-file rotation, repository-level release
// publication). Lock returns a token that must be presented to Unlock and
// Extend, so a holder can't be pre-empted by an unrelated caller that
// knows only the key.
type DistributedLock interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
	Extend(ctx context.Context, key, token string, ttl time.Duration) error
	IsLocked(ctx context.Context, key string) (bool, error)
}
