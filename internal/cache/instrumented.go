package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "github.com/tillpoint/posadmin/internal/cache"

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Response cache operations by outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Time spent in the response cache store"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented records every store call as a metric and on the active span.
// A get is classified as hit, miss, expired or error.
type Instrumented[T any] struct {
	wrapped   Store[T]
	storeType attribute.KeyValue
	now       func() time.Time
}

// NewInstrumented wraps store. storeType labels the recorded metrics.
func NewInstrumented[T any](store Store[T], storeType string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped:   store,
		storeType: attribute.String("cache.type", storeType),
		now:       time.Now,
	}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	start := i.now()
	entry, found, err := i.wrapped.Get(ctx, key)

	var status string
	switch {
	case err != nil:
		status = "error"
	case !found:
		status = "miss"
	case entry.Expired(i.now()):
		status = "expired"
	default:
		status = "hit"
	}
	i.record(ctx, "get", status, start)

	return entry, found, err
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, entry Entry[T]) error {
	start := i.now()
	err := i.wrapped.Set(ctx, key, entry)
	i.record(ctx, "set", outcome(err), start)
	return err
}

func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) error {
	start := i.now()
	err := i.wrapped.Invalidate(ctx, key)
	i.record(ctx, "invalidate", outcome(err), start)
	return err
}

func (i *Instrumented[T]) InvalidateExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	start := i.now()
	removed, err := i.wrapped.InvalidateExpired(ctx, key, now)

	status := outcome(err)
	if err == nil && !removed {
		status = "kept"
	}
	i.record(ctx, "invalidate_expired", status, start)

	return removed, err
}

func (i *Instrumented[T]) InvalidateAll(ctx context.Context) error {
	start := i.now()
	err := i.wrapped.InvalidateAll(ctx)
	i.record(ctx, "invalidate_all", outcome(err), start)
	return err
}

// Keys is not recorded: it is driven by sweeps and pattern invalidation,
// which record their own removals.
func (i *Instrumented[T]) Keys(ctx context.Context) ([]string, error) {
	return i.wrapped.Keys(ctx)
}

// Hits and Misses pass through the wrapped store's counters.
func (i *Instrumented[T]) Hits() uint64 {
	if c, ok := i.wrapped.(counter); ok {
		return c.Hits()
	}
	return 0
}

func (i *Instrumented[T]) Misses() uint64 {
	if c, ok := i.wrapped.(counter); ok {
		return c.Misses()
	}
	return 0
}

func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (i *Instrumented[T]) record(ctx context.Context, operation, status string, start time.Time) {
	elapsed := i.now().Sub(start).Seconds()
	op := attribute.String("cache.operation", operation)

	if cacheDuration != nil {
		cacheDuration.Record(ctx, elapsed, metric.WithAttributes(i.storeType, op))
	}
	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1, metric.WithAttributes(i.storeType, op, attribute.String("cache.status", status)))
	}

	trace.SpanFromContext(ctx).SetAttributes(
		i.storeType,
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", elapsed),
	)
}
