package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// GenerateKey builds the cache key method:url:params for a request. Params
// are encoded as JSON with map keys sorted, so logically equal params give
// the same key. Absent or empty params encode as the empty string.
func GenerateKey(method, url string, params map[string]any) string {
	if len(params) == 0 {
		return method + ":" + url + ":"
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		// unencodable params still need a stable key
		return fmt.Sprintf("%s:%s:%v", method, url, params)
	}

	return method + ":" + url + ":" + string(encoded)
}

// Stats describes the current cache contents. Hits and Misses are the
// store's lookup counters, zero when the store does not count.
type Stats struct {
	Size   int      `json:"size" yaml:"size"`
	Keys   []string `json:"keys" yaml:"keys"`
	Hits   uint64   `json:"hits" yaml:"hits"`
	Misses uint64   `json:"misses" yaml:"misses"`
}

// counter is implemented by stores that count lookups.
type counter interface {
	Hits() uint64
	Misses() uint64
}

// Options configures a Manager.
type Options struct {
	// DefaultTTL applies when Set is given a non-positive TTL.
	DefaultTTL time.Duration
	// SweepInterval is the period of the expired entry sweep. Zero disables
	// the background sweep.
	SweepInterval time.Duration
	Clock         func() time.Time
}

// Manager is a TTL cache of response values. Expiry is checked on every read
// and by a periodic background sweep.
type Manager[T any] struct {
	store      Store[T]
	defaultTTL time.Duration
	now        func() time.Time

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewManager creates a manager over store and starts the background sweep
// when configured. Call Close to stop it.
func NewManager[T any](store Store[T], opts Options) *Manager[T] {
	m := &Manager[T]{
		store:      store,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Clock,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if m.defaultTTL <= 0 {
		m.defaultTTL = DefaultTTL
	}
	if m.now == nil {
		m.now = time.Now
	}

	if opts.SweepInterval > 0 {
		go m.sweepLoop(opts.SweepInterval)
	} else {
		close(m.doneCh)
	}

	return m
}

// Set stores data under key. A non-positive ttl selects the default.
func (m *Manager[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	err := m.store.Set(ctx, key, Entry[T]{
		Data:      data,
		Timestamp: m.now(),
		TTL:       ttl,
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to store cache entry")
	}
}

// Get returns the data for key. Expired entries are removed and reported as
// absent.
func (m *Manager[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	entry, found, err := m.store.Get(ctx, key)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		return zero, false
	}
	if !found {
		return zero, false
	}

	if now := m.now(); entry.Expired(now) {
		m.invalidateExpired(ctx, key, now)
		return zero, false
	}

	return entry.Data, true
}

// Has reports whether a valid entry exists for key, removing it if expired.
func (m *Manager[T]) Has(ctx context.Context, key string) bool {
	_, ok := m.Get(ctx, key)
	return ok
}

// Delete removes key, reporting whether an entry was present.
func (m *Manager[T]) Delete(ctx context.Context, key string) bool {
	_, found, err := m.store.Get(ctx, key)
	if err != nil || !found {
		return false
	}

	m.invalidate(ctx, key)
	return true
}

// Clear removes every entry.
func (m *Manager[T]) Clear(ctx context.Context) {
	if err := m.store.InvalidateAll(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to clear cache")
	}
}

// InvalidatePattern removes every entry whose key matches the regular
// expression pattern, returning the number removed.
func (m *Manager[T]) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cache invalidation pattern %q: %w", pattern, err)
	}

	keys, err := m.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if re.MatchString(key) {
			m.invalidate(ctx, key)
			removed++
		}
	}

	log.Ctx(ctx).Debug().
		Str("pattern", pattern).
		Int("removed", removed).
		Msg("cache entries invalidated")

	return removed, nil
}

// Stats returns the number of entries held and their keys, sorted.
func (m *Manager[T]) Stats(ctx context.Context) Stats {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to list cache keys")
		return Stats{Keys: []string{}}
	}

	slices.Sort(keys)
	stats := Stats{Size: len(keys), Keys: keys}
	if c, ok := m.store.(counter); ok {
		stats.Hits = c.Hits()
		stats.Misses = c.Misses()
	}
	return stats
}

// Sweep removes every expired entry, returning the number removed.
func (m *Manager[T]) Sweep(ctx context.Context) int {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("cache sweep failed to list keys")
		return 0
	}

	now := m.now()
	removed := 0
	for _, key := range keys {
		entry, found, err := m.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		if entry.Expired(now) && m.invalidateExpired(ctx, key, now) {
			removed++
		}
	}

	return removed
}

// Close stops the background sweep and releases the store.
func (m *Manager[T]) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
		err = m.store.Close()
	})
	return err
}

func (m *Manager[T]) invalidate(ctx context.Context, key string) {
	if err := m.store.Invalidate(ctx, key); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to remove cache entry")
	}
}

// invalidateExpired removes key only while it still holds an expired entry,
// leaving a value stored since the expired read in place.
func (m *Manager[T]) invalidateExpired(ctx context.Context, key string, now time.Time) bool {
	removed, err := m.store.InvalidateExpired(ctx, key, now)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to remove expired cache entry")
	}
	return removed
}

// sweepLoop runs in a goroutine, removing expired entries at each tick.
func (m *Manager[T]) sweepLoop(interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if removed := m.Sweep(context.Background()); removed > 0 {
				log.Debug().Int("removed", removed).Msg("expired cache entries swept")
			}
		}
	}
}
