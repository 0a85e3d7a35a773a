// Package shutdown runs cleanup hooks when the CLI exits.
package shutdown

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds the total time given to all hooks.
const DefaultTimeout = 5 * time.Second

type hook struct {
	name string
	fn   func(context.Context) error
}

// Hooks is an ordered list of named cleanup functions. Hooks run in
// reverse registration order so that resources created later are released
// before the ones they depend on.
type Hooks struct {
	hooks []hook
}

// AddContext registers a hook that receives the shutdown context. A nil
// hook is ignored.
func (h *Hooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	log.Debug().Str("hook", name).Msg("shutdown hook registered")
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// AddClose registers a hook for a resource with a Close method.
func (h *Hooks) AddClose(name string, closer interface{ Close() }) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	h.AddContext(name, func(context.Context) error {
		closer.Close()
		return nil
	})
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	return len(h.hooks)
}

// Run executes every hook, newest first, under a context bounded by
// timeout. A failing hook is logged and does not stop the others. The
// number of failed hooks is returned.
func (h *Hooks) Run(ctx context.Context, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	l := log.Ctx(ctx)
	failed := 0

	for i := len(h.hooks) - 1; i >= 0; i-- {
		hk := h.hooks[i]
		hookLog := l.With().Str("hook", hk.name).Logger()

		if err := hk.fn(ctx); err != nil {
			failed++
			hookLog.Warn().Err(err).Msg("shutdown: hook failed")
			continue
		}
		hookLog.Debug().Msg("shutdown: hook complete")
	}

	h.hooks = nil

	return failed
}
