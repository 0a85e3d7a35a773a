package cache

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/config"
)

// NewFromConfig creates an instrumented in-memory cache manager from the
// provided configuration. The background sweep is started; call Close on the
// returned manager to stop it.
func NewFromConfig[T any](cacheConfig config.CacheConfig) (*Manager[T], error) {
	log.Info().
		Str("cache_type", "memory").
		Int("max_entries", cacheConfig.MaxEntries).
		Dur("default_ttl", cacheConfig.DefaultTTL()).
		Dur("sweep_interval", cacheConfig.SweepInterval()).
		Msg("initializing response cache")

	memory, err := NewMemory[T](cacheConfig.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return NewManager(NewInstrumented(memory, "memory"), Options{
		DefaultTTL:    cacheConfig.DefaultTTL(),
		SweepInterval: cacheConfig.SweepInterval(),
	}), nil
}
