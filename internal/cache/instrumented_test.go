package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// mockStore is a mock implementation of Store for testing.
type mockStore[T any] struct {
	getValue Entry[T]
	getFound bool
	getError error
	setError error
	invError error
	allError error
	keys     []string
	closeErr error
	getCalls int
	setCalls int
	invCalls int
	allCalls int
}

func (m *mockStore[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	m.getCalls++
	return m.getValue, m.getFound, m.getError
}

func (m *mockStore[T]) Set(ctx context.Context, key string, entry Entry[T]) error {
	m.setCalls++
	return m.setError
}

func (m *mockStore[T]) Invalidate(ctx context.Context, key string) error {
	m.invCalls++
	return m.invError
}

func (m *mockStore[T]) InvalidateExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	m.invCalls++
	return m.invError == nil, m.invError
}

func (m *mockStore[T]) InvalidateAll(ctx context.Context) error {
	m.allCalls++
	return m.allError
}

func (m *mockStore[T]) Keys(ctx context.Context) ([]string, error) {
	return m.keys, nil
}

func (m *mockStore[T]) Close() error {
	return m.closeErr
}

func TestInstrumented_Get_Hit(t *testing.T) {
	mock := &mockStore[string]{
		getValue: Entry[string]{Data: "payload"},
		getFound: true,
	}

	instrumented := NewInstrumented(mock, "test")

	entry, found, err := instrumented.Get(context.Background(), "test-key")

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "payload", entry.Data)
	assert.Equal(t, 1, mock.getCalls)
}

func TestInstrumented_Get_Miss(t *testing.T) {
	mock := &mockStore[string]{}

	instrumented := NewInstrumented(mock, "test")

	_, found, err := instrumented.Get(context.Background(), "test-key")

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, mock.getCalls)
}

func TestInstrumented_Get_Error(t *testing.T) {
	expectedErr := errors.New("cache error")
	mock := &mockStore[string]{getError: expectedErr}

	instrumented := NewInstrumented(mock, "test")

	_, found, err := instrumented.Get(context.Background(), "test-key")

	assert.ErrorIs(t, err, expectedErr)
	assert.False(t, found)
}

func TestInstrumented_Delegates(t *testing.T) {
	setErr := errors.New("set failed")
	mock := &mockStore[string]{setError: setErr, keys: []string{"k"}}

	instrumented := NewInstrumented(mock, "test")
	ctx := context.Background()

	assert.ErrorIs(t, instrumented.Set(ctx, "k", Entry[string]{}), setErr)
	assert.NoError(t, instrumented.Invalidate(ctx, "k"))
	assert.NoError(t, instrumented.InvalidateAll(ctx))

	keys, err := instrumented.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
	assert.NoError(t, instrumented.Close())

	assert.Equal(t, 1, mock.setCalls)
	assert.Equal(t, 1, mock.invCalls)
	assert.Equal(t, 1, mock.allCalls)
}

func recordingContext(t *testing.T) (context.Context, func() []attribute.KeyValue) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(t.Context(), t.Name())

	return ctx, func() []attribute.KeyValue {
		span.End()
		spans := recorder.Ended()
		require.Len(t, spans, 1, "expected exactly one recorded span")
		return spans[0].Attributes()
	}
}

func spanAttribute(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInstrumented_Get_SpanStatus(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		mock     *mockStore[string]
		expected string
	}{
		{
			name:     "hit",
			mock:     &mockStore[string]{getFound: true, getValue: Entry[string]{Timestamp: now, TTL: time.Minute}},
			expected: "hit",
		},
		{
			name:     "expired",
			mock:     &mockStore[string]{getFound: true, getValue: Entry[string]{Timestamp: now.Add(-time.Hour), TTL: time.Minute}},
			expected: "expired",
		},
		{
			name:     "miss",
			mock:     &mockStore[string]{},
			expected: "miss",
		},
		{
			name:     "error",
			mock:     &mockStore[string]{getError: errors.New("boom")},
			expected: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, attrs := recordingContext(t)

			instrumented := NewInstrumented(tt.mock, "memory")
			_, _, _ = instrumented.Get(ctx, "k")

			recorded := attrs()

			status, ok := spanAttribute(recorded, "cache.get.status")
			require.True(t, ok)
			assert.Equal(t, tt.expected, status.AsString())

			storeType, ok := spanAttribute(recorded, "cache.type")
			require.True(t, ok)
			assert.Equal(t, "memory", storeType.AsString())

			_, ok = spanAttribute(recorded, "cache.get.duration")
			assert.True(t, ok)
		})
	}
}
