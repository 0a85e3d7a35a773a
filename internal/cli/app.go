package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/api"
	"github.com/tillpoint/posadmin/internal/apierr"
	"github.com/tillpoint/posadmin/internal/cache"
	"github.com/tillpoint/posadmin/internal/config"
	"github.com/tillpoint/posadmin/internal/encryption"
	"github.com/tillpoint/posadmin/internal/loading"
	"github.com/tillpoint/posadmin/internal/observe"
	"github.com/tillpoint/posadmin/internal/shutdown"
	"github.com/tillpoint/posadmin/internal/storage"
	"github.com/tillpoint/posadmin/internal/token"
	"github.com/tillpoint/posadmin/internal/validation"
)

// App holds the long-lived components shared by every command. Each is
// constructed once and passed explicitly.
type App struct {
	Config    config.Config
	Client    *api.Client
	Tokens    *token.Manager
	Cache     *cache.Manager[api.Response]
	Errors    *apierr.Manager
	Validator *validation.Manager
	Loading   *loading.Store

	Preferences *storage.Preferences
	// Language is the stored language preference, else the configured one.
	Language    string

	hooks shutdown.Hooks
}

// NewApp wires the application from cfg. Close must be called to flush
// telemetry and stop background work.
func NewApp(ctx context.Context, cfg config.Config, stderr io.Writer) (*App, error) {
	a := &App{Config: cfg}

	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return nil, fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	a.hooks.AddContext("telemetry", shutdownTelemetry)

	httpClient := &http.Client{
		Transport: observe.HTTPTransport(configureHTTPTransport(cfg.API), cfg.Observe),
	}

	durable, err := durableStore(cfg.Storage)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("token storage configuration failed: %w", err)
	}

	a.Preferences = storage.NewPreferences(durable)
	a.Language, err = a.Preferences.Language(cfg.Errors.Language)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("using configured language")
	}

	a.Tokens = token.NewManager(
		&token.HTTPRefresher{
			BaseURL: cfg.API.BaseURL,
			Path:    cfg.Auth.RefreshPath,
			Client:  httpClient,
		},
		token.WithStores(storage.NewMemory(), durable),
		token.WithGrace(cfg.Auth.StoredTokenGrace()),
		token.WithRefreshTimeout(cfg.Auth.RefreshTimeout()),
	)

	a.Cache, err = cache.NewFromConfig[api.Response](cfg.Cache)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("response cache configuration failed: %w", err)
	}
	a.hooks.AddContext("response-cache", func(ctx context.Context) error {
		stats := a.Cache.Stats(ctx)
		log.Ctx(ctx).Debug().
			Int("entries", stats.Size).
			Uint64("hits", stats.Hits).
			Uint64("misses", stats.Misses).
			Msg("closing response cache")
		return a.Cache.Close()
	})

	a.Errors = apierr.NewManager(
		apierr.WithMaxRetained(cfg.Errors.MaxRetained),
		apierr.WithLanguage(a.Language),
	)
	a.Errors.SetupDefaultHandlers()

	a.Validator = validation.NewManager()
	a.Loading = loading.NewStore()

	a.Client = api.New(cfg.API,
		api.Dependencies{
			Tokens:    a.Tokens,
			Cache:     a.Cache,
			Validator: a.Validator,
			Errors:    a.Errors,
			Loading:   a.Loading,
		},
		api.WithHTTPClient(httpClient),
		api.WithLoginPath(cfg.Auth.LoginPath),
		api.WithSessionExpired(func(context.Context) {
			fmt.Fprintln(stderr, "Session expired. Run 'posadmin login' to sign in again.")
		}),
	)

	return a, nil
}

// Close runs the shutdown hooks.
func (a *App) Close(ctx context.Context) {
	if failed := a.hooks.Run(ctx, shutdown.DefaultTimeout); failed > 0 {
		log.Ctx(ctx).Warn().Int("failed", failed).Msg("shutdown incomplete")
	}
}

func durableStore(cfg config.StorageConfig) (*storage.File, error) {
	path := cfg.Path
	if path == "" {
		var err error
		path, err = storage.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	key, err := cfg.DecodedKey()
	if err != nil {
		return nil, err
	}

	if key == nil {
		return storage.NewFile(path), nil
	}

	aead, err := encryption.NewXChaCha(key)
	if err != nil {
		return nil, err
	}
	if err := encryption.Validate(aead); err != nil {
		return nil, err
	}

	return storage.NewFile(path, storage.WithAEAD(aead)), nil
}

func configureHTTPTransport(cfg config.APIConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
