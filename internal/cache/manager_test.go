package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, opts Options) *Manager[string] {
	t.Helper()

	store, err := NewMemory[string](1000)
	require.NoError(t, err)

	m := NewManager[string](store, opts)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestGenerateKey(t *testing.T) {
	cases := []struct {
		name   string
		method string
		url    string
		params map[string]any
		want   string
	}{
		{
			name:   "nil params",
			method: "GET",
			url:    "/users",
			want:   "GET:/users:",
		},
		{
			name:   "empty params",
			method: "GET",
			url:    "/users",
			params: map[string]any{},
			want:   "GET:/users:",
		},
		{
			name:   "sorted params",
			method: "GET",
			url:    "/users",
			params: map[string]any{"page": 1, "limit": 10},
			want:   `GET:/users:{"limit":10,"page":1}`,
		},
		{
			name:   "nested params",
			method: "GET",
			url:    "/sales",
			params: map[string]any{"filter": map[string]any{"z": true, "a": "x"}},
			want:   `GET:/sales:{"filter":{"a":"x","z":true}}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GenerateKey(tc.method, tc.url, tc.params))
		})
	}
}

func TestGenerateKey_Deterministic(t *testing.T) {
	a := GenerateKey("GET", "/users", map[string]any{"page": 1, "search": "ana", "limit": 10})
	b := GenerateKey("GET", "/users", map[string]any{"limit": 10, "page": 1, "search": "ana"})

	assert.Equal(t, a, b)
}

func TestManager_TTL(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})

	m.Set(ctx, "k", "value", 100*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	v, ok := m.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	time.Sleep(100 * time.Millisecond)
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestManager_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	m := newTestManager(t, Options{Clock: clock.Now})

	m.Set(ctx, "k", "value", time.Minute)

	// exactly at the TTL the entry is still valid
	clock.Advance(time.Minute)
	assert.True(t, m.Has(ctx, "k"))

	clock.Advance(time.Millisecond)
	assert.False(t, m.Has(ctx, "k"))

	// the expired read evicted the entry
	assert.Equal(t, 0, m.Stats(ctx).Size)
}

func TestManager_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	m := newTestManager(t, Options{Clock: clock.Now})

	m.Set(ctx, "k", "value", 0)

	clock.Advance(DefaultTTL)
	assert.True(t, m.Has(ctx, "k"))

	clock.Advance(time.Second)
	assert.False(t, m.Has(ctx, "k"))
}

func TestManager_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})

	m.Set(ctx, "a", "1", time.Minute)
	m.Set(ctx, "b", "2", time.Minute)

	assert.True(t, m.Delete(ctx, "a"))
	assert.False(t, m.Delete(ctx, "a"))
	assert.False(t, m.Has(ctx, "a"))

	m.Clear(ctx)
	assert.False(t, m.Has(ctx, "b"))
	stats := m.Stats(ctx)
	assert.Zero(t, stats.Size)
	assert.Empty(t, stats.Keys)
}

func TestManager_InvalidatePattern(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})

	m.Set(ctx, GenerateKey("GET", "/users", nil), "u", time.Minute)
	m.Set(ctx, GenerateKey("GET", "/users/1", nil), "u1", time.Minute)
	m.Set(ctx, GenerateKey("GET", "/sales", nil), "s", time.Minute)

	removed, err := m.InvalidatePattern(ctx, "^GET:/users")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats := m.Stats(ctx)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, []string{"GET:/sales:"}, stats.Keys)
}

func TestManager_InvalidatePattern_BadPattern(t *testing.T) {
	m := newTestManager(t, Options{})

	_, err := m.InvalidatePattern(context.Background(), "([")

	assert.ErrorContains(t, err, "invalid cache invalidation pattern")
}

func TestManager_Stats(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})

	m.Set(ctx, "b", "2", time.Minute)
	m.Set(ctx, "a", "1", time.Minute)

	assert.Equal(t, Stats{Size: 2, Keys: []string{"a", "b"}}, m.Stats(ctx))
}

func TestManager_StatsCountsLookups(t *testing.T) {
	ctx := context.Background()
	memory, err := NewMemory[string](100)
	require.NoError(t, err)
	m := NewManager[string](NewInstrumented[string](memory, "memory"), Options{})
	t.Cleanup(func() { _ = m.Close() })

	m.Set(ctx, "a", "1", time.Minute)
	_, _ = m.Get(ctx, "a")
	_, _ = m.Get(ctx, "a")
	_, _ = m.Get(ctx, "missing")

	stats := m.Stats(ctx)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestManager_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	m := newTestManager(t, Options{Clock: clock.Now})

	m.Set(ctx, "short", "1", time.Second)
	m.Set(ctx, "long", "2", time.Hour)

	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, m.Sweep(ctx))
	assert.Equal(t, []string{"long"}, m.Stats(ctx).Keys)
}

func TestManager_BackgroundSweep(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	m := newTestManager(t, Options{Clock: clock.Now, SweepInterval: 10 * time.Millisecond})

	m.Set(ctx, "short", "1", time.Second)
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		return m.Stats(ctx).Size == 0
	}, time.Second, 10*time.Millisecond)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	store, err := NewMemory[string](10)
	require.NoError(t, err)

	m := NewManager[string](store, Options{SweepInterval: time.Millisecond})

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestManager_StoreErrorsAreMisses(t *testing.T) {
	mock := &mockStore[string]{getError: errors.New("boom")}
	m := NewManager[string](mock, Options{})
	defer m.Close()

	_, ok := m.Get(context.Background(), "k")
	assert.False(t, ok)
}

// racingStore runs afterGet once, between a read and whatever the caller
// does with it.
type racingStore struct {
	*Memory[string]
	afterGet func()
}

func (s *racingStore) Get(ctx context.Context, key string) (Entry[string], bool, error) {
	entry, found, err := s.Memory.Get(ctx, key)
	if hook := s.afterGet; hook != nil {
		s.afterGet = nil
		hook()
	}
	return entry, found, err
}

func TestManager_ExpiredReadKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}

	memory, err := NewMemory[string](100)
	require.NoError(t, err)
	store := &racingStore{Memory: memory}
	m := NewManager[string](store, Options{Clock: clock.Now})
	t.Cleanup(func() { _ = m.Close() })

	m.Set(ctx, "k", "stale", time.Second)
	clock.Advance(2 * time.Second)

	store.afterGet = func() { m.Set(ctx, "k", "fresh", time.Minute) }

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok, "the read observed the expired entry")

	got, ok := m.Get(ctx, "k")
	require.True(t, ok, "the entry written after the expired read survives")
	assert.Equal(t, "fresh", got)
}

func TestManager_SweepKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}

	memory, err := NewMemory[string](100)
	require.NoError(t, err)
	store := &racingStore{Memory: memory}
	m := NewManager[string](store, Options{Clock: clock.Now})
	t.Cleanup(func() { _ = m.Close() })

	m.Set(ctx, "k", "stale", time.Second)
	clock.Advance(2 * time.Second)

	store.afterGet = func() { m.Set(ctx, "k", "fresh", time.Minute) }

	assert.Equal(t, 0, m.Sweep(ctx))

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "fresh", got)
}

func TestMemory_InvalidateExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	store, err := NewMemory[string](100)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "old", Entry[string]{Data: "a", Timestamp: now.Add(-time.Hour), TTL: time.Hour * 2}))
	require.NoError(t, store.Set(ctx, "new", Entry[string]{Data: "b", Timestamp: now, TTL: time.Hour}))

	removed, err := store.InvalidateExpired(ctx, "old", now.Add(90*time.Minute))
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.InvalidateExpired(ctx, "new", now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = store.InvalidateExpired(ctx, "absent", now)
	require.NoError(t, err)
	assert.False(t, removed)

	_, found, _ := store.Get(ctx, "new")
	assert.True(t, found)
	_, found, _ = store.Get(ctx, "old")
	assert.False(t, found)
}
