package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	API     APIConfig
	Auth    AuthConfig
	Cache   CacheConfig
	Errors  ErrorsConfig
	Storage StorageConfig
	Observe ObserveConfig
}

// APIConfig describes the backend the client talks to and how outbound
// requests are shaped.
type APIConfig struct {
	BaseURL string `env:"API_URL, default=http://localhost:8000/api"`

	TimeoutSeconds            int `env:"API_TIMEOUT_SECS, default=30"`
	AuthTimeoutSeconds        int `env:"API_AUTH_TIMEOUT_SECS, default=10"`
	DownloadTimeoutSeconds    int `env:"API_DOWNLOAD_TIMEOUT_SECS, default=60"`
	UploadTimeoutSeconds      int `env:"API_UPLOAD_TIMEOUT_SECS, default=300"`
	MultiUploadTimeoutSeconds int `env:"API_MULTI_UPLOAD_TIMEOUT_SECS, default=600"`

	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64 `env:"API_RATE_LIMIT, default=0"`
	RateBurst int     `env:"API_RATE_BURST, default=10"`

	// RetryAttempts is the default number of retries for requests that
	// never received a response. Per-request configuration overrides it.
	RetryAttempts int `env:"API_RETRY_ATTEMPTS, default=0"`

	CSRFToken string `env:"API_CSRF_TOKEN"`

	OutgoingHTTPMaxIdleConns    int `env:"API_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"API_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c APIConfig) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutSeconds) * time.Second
}

func (c APIConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

func (c APIConfig) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSeconds) * time.Second
}

func (c APIConfig) MultiUploadTimeout() time.Duration {
	return time.Duration(c.MultiUploadTimeoutSeconds) * time.Second
}

type AuthConfig struct {
	RefreshPath           string `env:"AUTH_REFRESH_PATH, default=/auth/refresh"`
	LoginPath             string `env:"AUTH_LOGIN_PATH, default=/auth/login"`
	RefreshTimeoutSeconds int    `env:"AUTH_REFRESH_TIMEOUT_SECS, default=10"`

	// StoredTokenGraceHours is how long past expiry persisted tokens are still
	// loaded, so that the refresh token gets a chance to renew them.
	StoredTokenGraceHours int `env:"AUTH_STORED_TOKEN_GRACE_HOURS, default=168"`
}

func (c AuthConfig) RefreshTimeout() time.Duration {
	return time.Duration(c.RefreshTimeoutSeconds) * time.Second
}

func (c AuthConfig) StoredTokenGrace() time.Duration {
	return time.Duration(c.StoredTokenGraceHours) * time.Hour
}

// CacheConfig specifies response cache configuration.
type CacheConfig struct {
	// DefaultTTLSeconds applies when a request enables caching without
	// specifying its own TTL.
	DefaultTTLSeconds int `env:"CACHE_DEFAULT_TTL_SECS, default=300"`

	// SweepIntervalSeconds is the period of the background expiry sweep.
	SweepIntervalSeconds int `env:"CACHE_SWEEP_INTERVAL_SECS, default=300"`

	MaxEntries int `env:"CACHE_MAX_ENTRIES, default=10000"`
}

func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

type ErrorsConfig struct {
	MaxRetained int `env:"ERRORS_MAX_RETAINED, default=50"`
	// Language selects the catalogue for user-facing messages ("en" or "es").
	Language string `env:"ERRORS_LANGUAGE, default=es"`
}

// StorageConfig controls the durable token mirror.
type StorageConfig struct {
	// Path of the durable store file. Empty selects the user config directory.
	Path string `env:"TOKEN_STORE_PATH"`

	// Key is a base64 encoded 32 byte key. When set, the durable store is
	// sealed at rest.
	Key string `env:"TOKEN_STORE_KEY"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=posadmin"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=false"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.API.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid api configuration: %w", err)
	}

	if err := cfg.Cache.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	if err := cfg.Errors.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid error configuration: %w", err)
	}

	if err := cfg.Storage.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid storage configuration: %w", err)
	}

	if err := cfg.Observe.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid observe configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the API configuration is usable.
func (c *APIConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("API_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("API_URL must use http or https, got %q", u.Scheme)
	}

	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("API_TIMEOUT_SECS must be positive")
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT cannot be negative")
	}

	if c.RetryAttempts < 0 {
		return fmt.Errorf("API_RETRY_ATTEMPTS cannot be negative")
	}

	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("CACHE_DEFAULT_TTL_SECS must be positive")
	}

	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("CACHE_SWEEP_INTERVAL_SECS must be positive")
	}

	if c.MaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive")
	}

	return nil
}

func (c *ErrorsConfig) Validate() error {
	if c.MaxRetained <= 0 {
		return fmt.Errorf("ERRORS_MAX_RETAINED must be positive")
	}

	if c.Language != "en" && c.Language != "es" {
		return fmt.Errorf("ERRORS_LANGUAGE must be one of en, es; got %q", c.Language)
	}

	return nil
}

func (c *StorageConfig) Validate() error {
	if c.Key == "" {
		return nil
	}

	_, err := c.DecodedKey()
	return err
}

// DecodedKey returns the raw bytes of the storage key, or nil when no key
// is configured.
func (c *StorageConfig) DecodedKey() ([]byte, error) {
	if c.Key == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(c.Key)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_STORE_KEY must be base64 encoded: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("TOKEN_STORE_KEY must decode to 32 bytes, got %d", len(key))
	}

	return key, nil
}

func (c *ObserveConfig) Validate() error {
	switch c.Type {
	case "grpc", "stdout":
		return nil
	default:
		return fmt.Errorf("OBSERVE_TYPE must be one of grpc, stdout; got %q", c.Type)
	}
}
