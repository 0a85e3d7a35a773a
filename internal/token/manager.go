package token

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/storage"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Refresher exchanges a refresh token for a new grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Grant, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (Grant, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	return f(ctx, refreshToken)
}

// Manager holds the current token pair. Concurrent callers needing a refresh
// share a single refresh call and observe the same outcome.
type Manager struct {
	refresher Refresher

	mu         sync.RWMutex
	pair       *Pair
	generation uint64

	group singleflight.Group

	session        storage.Store
	durable        storage.Store
	grace          time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
}

type Option func(*Manager)

// WithStores sets the session and durable mirrors. Either may be nil.
func WithStores(session, durable storage.Store) Option {
	return func(m *Manager) {
		m.session = session
		m.durable = durable
	}
}

// WithGrace sets how long past expiry a stored pair is still loaded.
func WithGrace(d time.Duration) Option {
	return func(m *Manager) {
		m.grace = d
	}
}

// WithRefreshTimeout bounds a single refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager and loads any persisted pair, preferring the
// session mirror over the durable one.
func NewManager(refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		refresher:      refresher,
		grace:          7 * 24 * time.Hour,
		refreshTimeout: 10 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.load()

	return m
}

// Tokens returns a copy of the current pair.
func (m *Manager) Tokens() (Pair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pair == nil {
		return Pair{}, false
	}
	return *m.pair, true
}

// IsAuthenticated reports whether an unexpired access token is held.
func (m *Manager) IsAuthenticated() bool {
	p, ok := m.Tokens()
	return ok && !p.Expired(m.now())
}

// SetTokens replaces the current pair and mirrors it to storage. A refresh
// already in flight will not overwrite it.
func (m *Manager) SetTokens(p Pair) {
	m.mu.Lock()
	m.pair = &p
	m.generation++
	m.mu.Unlock()

	m.sync()
}

// SetFromGrant stores the pair described by a login grant.
func (m *Manager) SetFromGrant(g Grant) error {
	p, err := PairFromGrant(g, "", m.now())
	if err != nil {
		return err
	}
	m.SetTokens(p)
	return nil
}

// Clear removes the pair from memory and storage and abandons any pending
// refresh result.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.pair = nil
	m.generation++
	m.mu.Unlock()

	m.group.Forget(refreshKey)
	m.sync()
}

// ValidAccessToken returns an unexpired access token, refreshing if needed.
// It returns an empty string and no error when no tokens are held.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	p, ok := m.Tokens()
	if !ok {
		return "", nil
	}

	if !p.Expired(m.now()) {
		return p.AccessToken, nil
	}

	return m.shared(ctx, m.refreshIfExpired)
}

// RefreshAfterReject is called when the server rejected the access token.
// If another caller has already replaced the rejected token, the replacement
// is returned; otherwise a refresh is forced.
func (m *Manager) RefreshAfterReject(ctx context.Context, rejected string) (string, error) {
	p, ok := m.Tokens()
	if ok && p.AccessToken != rejected && !p.Expired(m.now()) {
		return p.AccessToken, nil
	}

	return m.Refresh(ctx)
}

// Refresh exchanges the refresh token for a new pair. Concurrent calls share
// one exchange. Any failure clears the held tokens.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	return m.shared(ctx, m.refresh)
}

// shared runs fn as the single in-flight refresh, or joins the one already
// running.
func (m *Manager) shared(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	// the shared refresh must outlive any single caller's cancellation
	detached := context.WithoutCancel(ctx)

	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refreshIfExpired skips the exchange when a refresh that finished after
// the caller saw the expired token has already replaced it.
func (m *Manager) refreshIfExpired(ctx context.Context) (string, error) {
	if p, ok := m.Tokens(); ok && !p.Expired(m.now()) {
		return p.AccessToken, nil
	}
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	gen := m.generation
	var current Pair
	if m.pair != nil {
		current = *m.pair
	}
	m.mu.RUnlock()

	if current.RefreshToken == "" {
		m.clearIfGeneration(gen)
		return "", ErrNoRefreshToken
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	log.Ctx(ctx).Debug().Msg("refreshing access token")

	grant, err := m.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		m.clearIfGeneration(gen)
		log.Ctx(ctx).Warn().Err(err).Msg("token refresh failed, tokens cleared")
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	next, err := PairFromGrant(grant, current.RefreshToken, m.now())
	if err != nil {
		m.clearIfGeneration(gen)
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return "", ErrTokensCleared
	}
	m.pair = &next
	m.generation++
	m.mu.Unlock()

	m.sync()

	log.Ctx(ctx).Debug().Time("expires_at", next.Expiry()).Msg("access token refreshed")

	return next.AccessToken, nil
}

// clearIfGeneration clears only when no other writer has replaced the pair
// since gen was observed.
func (m *Manager) clearIfGeneration(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.pair = nil
	m.generation++
	m.mu.Unlock()

	m.sync()
}

// sync writes the current pair to the stores, or removes it when none is
// held. Writers run concurrently, so after writing it checks whether the pair
// changed meanwhile and writes again; the last write to land is then always
// the current pair.
func (m *Manager) sync() {
	for {
		m.mu.RLock()
		gen := m.generation
		var current *Pair
		if m.pair != nil {
			p := *m.pair
			current = &p
		}
		m.mu.RUnlock()

		if current != nil {
			m.persist(*current)
		} else {
			m.unpersist()
		}

		m.mu.RLock()
		moved := m.generation != gen
		m.mu.RUnlock()

		if !moved {
			return
		}
	}
}

func (m *Manager) stores() []storage.Store {
	var s []storage.Store
	if m.session != nil {
		s = append(s, m.session)
	}
	if m.durable != nil {
		s = append(s, m.durable)
	}
	return s
}

func (m *Manager) load() {
	for _, store := range m.stores() {
		raw, ok, err := store.Get(StorageKey)
		if err != nil {
			log.Warn().Err(err).Msg("error loading tokens from storage")
			continue
		}
		if !ok {
			continue
		}

		var p Pair
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			log.Warn().Err(err).Msg("ignoring malformed stored tokens")
			return
		}

		if m.now().Before(p.Expiry().Add(m.grace)) {
			m.pair = &p
		}
		return
	}
}

func (m *Manager) persist(p Pair) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Warn().Err(err).Msg("error encoding tokens for storage")
		return
	}

	for _, store := range m.stores() {
		if err := store.Set(StorageKey, string(data)); err != nil {
			log.Warn().Err(err).Msg("error saving tokens to storage")
		}
	}
}

func (m *Manager) unpersist() {
	for _, store := range m.stores() {
		if err := store.Remove(StorageKey); err != nil {
			log.Warn().Err(err).Msg("error removing tokens from storage")
		}
	}
}
