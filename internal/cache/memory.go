package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-memory store implementation using otter. Entries carry
// their own TTL, which otter also uses to expire them.
type Memory[T any] struct {
	cache   *otter.Cache[string, Entry[T]]
	counter *stats.Counter
}

// NewMemory creates a new in-memory store bounded to maxSize entries.
func NewMemory[T any](maxSize int) (*Memory[T], error) {
	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, Entry[T]]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
		ExpiryCalculator: otter.ExpiryCreatingFunc(func(e otter.Entry[string, Entry[T]]) time.Duration {
			return e.Value.TTL
		}),
	})

	return &Memory[T]{
		cache:   cache,
		counter: counter,
	}, nil
}

// Get retrieves an entry from the store.
func (m *Memory[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	entry, ok := m.cache.GetIfPresent(key)
	return entry, ok, nil
}

// Set stores an entry.
func (m *Memory[T]) Set(ctx context.Context, key string, entry Entry[T]) error {
	m.cache.Set(key, entry)
	return nil
}

// Invalidate removes an entry.
func (m *Memory[T]) Invalidate(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// InvalidateExpired checks and removes atomically, so an entry written
// after an expired one was read is kept.
func (m *Memory[T]) InvalidateExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	removed := false
	m.cache.ComputeIfPresent(key, func(old Entry[T]) (Entry[T], otter.ComputeOp) {
		if !old.Expired(now) {
			return old, otter.CancelOp
		}
		removed = true
		return old, otter.InvalidateOp
	})
	return removed, nil
}

func (m *Memory[T]) InvalidateAll(ctx context.Context) error {
	m.cache.InvalidateAll()
	return nil
}

func (m *Memory[T]) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, m.cache.EstimatedSize())
	for k := range m.cache.All() {
		keys = append(keys, k)
	}
	return keys, nil
}

// Hits and misses as seen by the underlying otter cache.
func (m *Memory[T]) Hits() uint64 {
	return m.counter.Snapshot().Hits
}

func (m *Memory[T]) Misses() uint64 {
	return m.counter.Snapshot().Misses
}

// Close releases any resources held by the store.
func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}
