package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// ErrLockContended is returned by Lock when the lock could not be acquired
// within the wait budget.
var ErrLockContended = errors.New("storage: lock contended")

// Store is the coordination store shared by all correlation workers. It
// holds short-lived locks, TTL'd sorted sets, TTL'd counters and TTL'd
// scalars. Implementations must bound every call with the context deadline.
type Store interface {
	// Scalars
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only when absent; reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching the glob pattern. Deletion is
	// chunked so a large match set cannot block the store.
	DeletePattern(ctx context.Context, pattern string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Counters
	Incr(ctx context.Context, key string) (int64, error)

	// Sorted sets (member scored by unix seconds)
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZCount(ctx context.Context, key string, min, max float64) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// Lock acquires the named advisory lock, waiting up to wait. The
	// returned function releases the lock; releasing an expired or stolen
	// lock is a no-op.
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context), error)
}
