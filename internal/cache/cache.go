package cache

import (
	"context"
	"time"
)

// Entry is a cached value with its insertion time and lifetime.
type Entry[T any] struct {
	Data      T
	Timestamp time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is past its lifetime at now. An entry
// is still valid at exactly Timestamp+TTL.
func (e Entry[T]) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// Store defines the backing storage for cache entries.
// The generic type T represents the cached data type.
type Store[T any] interface {
	// Get retrieves an entry from the store.
	// Returns the entry, whether it was found, and any error.
	Get(ctx context.Context, key string) (Entry[T], bool, error)

	// Set stores an entry.
	Set(ctx context.Context, key string, entry Entry[T]) error

	// Invalidate removes an entry.
	Invalidate(ctx context.Context, key string) error

	// InvalidateExpired removes the entry for key only if the entry held at
	// the time of removal is expired at now, reporting whether it did.
	InvalidateExpired(ctx context.Context, key string, now time.Time) (bool, error)

	// InvalidateAll removes every entry.
	InvalidateAll(ctx context.Context) error

	// Keys lists the keys currently held.
	Keys(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
