// Package api is the single entry point for calls to the POS backend. It
// attaches credentials, caches GET responses on request, tracks loading
// state, retries once after a token refresh and normalizes every failure
// into an *apierr.Error.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tillpoint/posadmin/internal/apierr"
	"github.com/tillpoint/posadmin/internal/audit"
	"github.com/tillpoint/posadmin/internal/cache"
	"github.com/tillpoint/posadmin/internal/config"
	"github.com/tillpoint/posadmin/internal/loading"
	"github.com/tillpoint/posadmin/internal/token"
	"github.com/tillpoint/posadmin/internal/validation"
	"golang.org/x/time/rate"
)

const (
	defaultRefreshPath = "/auth/refresh"
	defaultLoginPath   = "/auth/login"
)

// LoadingTracker receives loading state changes around every request.
// *loading.Store is the usual implementation.
type LoadingTracker interface {
	SetGlobalLoading(loading bool)
	SetRequestLoading(key string, loading bool)
	SetUploadProgress(key string, percentage int)
	ClearAll()
}

// Dependencies are the long-lived collaborators of a Client. Nil members are
// replaced with fresh defaults, except Cache: without a cache, GET requests
// asking to be cached always go to the network.
type Dependencies struct {
	Tokens    *token.Manager
	Cache     *cache.Manager[Response]
	Validator *validation.Manager
	Errors    *apierr.Manager
	Loading   LoadingTracker
}

// Client performs requests against the backend API.
type Client struct {
	cfg     config.APIConfig
	baseURL string

	httpClient *http.Client
	limiter    *rate.Limiter

	tokens    *token.Manager
	cache     *cache.Manager[Response]
	validator *validation.Manager
	errors    *apierr.Manager
	loading   LoadingTracker

	csrfToken        func() string
	onSessionExpired func(ctx context.Context)
	loginPath        string
	now              func() time.Time
}

type Option func(*Client)

// WithHTTPClient sets the client used for outbound calls. Per-request
// timeouts are applied through the request context, so the client's own
// Timeout should normally be zero.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithCSRFToken sets the source of the X-CSRFToken header. An empty result
// omits the header.
func WithCSRFToken(fn func() string) Option {
	return func(cl *Client) {
		cl.csrfToken = fn
	}
}

// WithSessionExpired sets the hook invoked after a failed token refresh has
// cleared the session. Interactive callers use it to send the user back to
// login.
func WithSessionExpired(fn func(ctx context.Context)) Option {
	return func(cl *Client) {
		cl.onSessionExpired = fn
	}
}

// WithLoginPath overrides the path used by Login.
func WithLoginPath(path string) Option {
	return func(cl *Client) {
		cl.loginPath = path
	}
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		cl.now = now
	}
}

// New creates a client for the API at cfg.BaseURL.
func New(cfg config.APIConfig, deps Dependencies, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		tokens:    deps.Tokens,
		cache:     deps.Cache,
		validator: deps.Validator,
		errors:    deps.Errors,
		loading:   deps.Loading,
		loginPath: defaultLoginPath,
		now:       time.Now,
	}

	if cfg.CSRFToken != "" {
		static := cfg.CSRFToken
		c.csrfToken = func() string { return static }
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.csrfToken == nil {
		c.csrfToken = func() string { return "" }
	}
	if c.tokens == nil {
		c.tokens = token.NewManager(&token.HTTPRefresher{
			BaseURL: c.baseURL,
			Path:    defaultRefreshPath,
			Client:  c.httpClient,
		})
	}
	if c.validator == nil {
		c.validator = validation.NewManager()
	}
	if c.errors == nil {
		c.errors = apierr.NewManager()
		c.errors.SetupDefaultHandlers()
	}
	if c.loading == nil {
		c.loading = loading.NewStore()
	}

	if cfg.RateLimit > 0 {
		burst := max(cfg.RateBurst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return c
}

// Do performs req and returns the response envelope. Any failure is
// returned as an *apierr.Error that has already been recorded by the error
// manager.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, entry := audit.Context(ctx)
	entry.Begin(method, req.URL)
	defer entry.End(ctx)()

	cacheable := method == http.MethodGet && req.Config.Cache && c.cache != nil

	var cacheKey string
	if cacheable {
		cacheKey = cache.GenerateKey(method, req.URL, req.Config.Params)
		if cached, ok := c.cache.Get(ctx, cacheKey); ok {
			entry.CacheHit = true
			entry.Status = cached.Status
			return cached.clone(), nil
		}
	}

	key := loading.RequestKey(method, req.URL)
	c.loading.SetRequestLoading(key, true)
	defer c.loading.SetRequestLoading(key, false)

	if req.Config.ShowGlobalLoading {
		c.loading.SetGlobalLoading(true)
		defer c.loading.SetGlobalLoading(false)
	}

	if req.Config.Schema != "" && req.Body != nil {
		if _, err := c.validator.Validate(req.Config.Schema, req.Body); err != nil {
			return nil, c.fail(ctx, err, method, req.URL)
		}
	}

	cl, err := c.prepare(method, key, req)
	if err != nil {
		return nil, c.fail(ctx, err, method, req.URL)
	}

	resp, err := c.dispatch(ctx, cl)
	if err != nil {
		return nil, c.fail(ctx, err, method, req.URL)
	}

	if cacheable {
		c.cache.Set(ctx, cacheKey, *resp.clone(), req.Config.CacheTTL)
	}

	return resp, nil
}

func (c *Client) fail(ctx context.Context, err error, method, url string) error {
	e := c.errors.Handle(ctx, err, method+" "+url)

	entry := audit.Log(ctx)
	entry.Error = e.Message
	entry.ErrorCode = e.Code
	if entry.Status == 0 {
		entry.Status = e.Status
	}

	return e
}

func (c *Client) Get(ctx context.Context, url string, cfg RequestConfig) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Config: cfg})
}

func (c *Client) Post(ctx context.Context, url string, body any, cfg RequestConfig) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: url, Body: body, Config: cfg})
}

func (c *Client) Put(ctx context.Context, url string, body any, cfg RequestConfig) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, URL: url, Body: body, Config: cfg})
}

func (c *Client) Patch(ctx context.Context, url string, body any, cfg RequestConfig) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, URL: url, Body: body, Config: cfg})
}

func (c *Client) Delete(ctx context.Context, url string, cfg RequestConfig) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, URL: url, Config: cfg})
}

// ClearCache removes every cached response.
func (c *Client) ClearCache(ctx context.Context) {
	if c.cache == nil {
		return
	}
	c.cache.Clear(ctx)
}

// InvalidateCache removes cached responses whose key matches the regular
// expression pattern and returns how many were removed.
func (c *Client) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	return c.cache.InvalidatePattern(ctx, pattern)
}

// Logout clears the tokens, the response cache and all loading state.
func (c *Client) Logout(ctx context.Context) {
	c.tokens.Clear()
	c.ClearCache(ctx)
	c.loading.ClearAll()

	log.Ctx(ctx).Info().Msg("logged out")
}

func (c *Client) IsAuthenticated() bool {
	return c.tokens.IsAuthenticated()
}

// ValidAccessToken returns a usable access token, refreshing it if it has
// expired. It returns an empty string when not logged in.
func (c *Client) ValidAccessToken(ctx context.Context) (string, error) {
	return c.tokens.ValidAccessToken(ctx)
}

// SetAuthTokens installs a token pair that expires expiresIn seconds from
// now.
func (c *Client) SetAuthTokens(accessToken, refreshToken string, expiresIn int64) {
	c.tokens.SetTokens(token.Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    c.now().UnixMilli() + expiresIn*1000,
	})
}

// Errors exposes the error manager for inspection of recorded failures.
func (c *Client) Errors() *apierr.Manager {
	return c.errors
}

// Validator exposes the schema registry used by RequestConfig.Schema.
func (c *Client) Validator() *validation.Manager {
	return c.validator
}
