package fyk

import (
	"net/http"
	"os"
	"time"

	"github.com/Thomah6/fetchyourkeys-go/audit"
	"github.com/Thomah6/fetchyourkeys-go/cache"
)

const (
	// EnvAPIKey is the environment variable consulted when Config.APIKey
	// is empty.
	EnvAPIKey = "FYK_API_KEY"

	// DefaultBaseURL is the hosted FetchYourKeys keys endpoint.
	DefaultBaseURL = "https://fetchyourkeys-v2.vercel.app/api/keys"

	// DefaultRequestTimeout bounds each remote fetch.
	DefaultRequestTimeout = 10 * time.Second

	minAPIKeyLen = cache.MinAPIKeyLen
)

// Config configures a Client. The zero value plus an API key (direct or
// via FYK_API_KEY) is a working development setup.
type Config struct {
	// APIKey authenticates to the service and scopes the local cache.
	// Falls back to the FYK_API_KEY environment variable when empty.
	APIKey string

	// BaseURL overrides the keys endpoint. Empty means DefaultBaseURL.
	BaseURL string

	// Environment selects the cache backend: "development" (default) uses
	// an encrypted file, "production" keeps the cache in process memory.
	// Unrecognized values fall back to development with a warning.
	Environment string

	// RequestTimeout bounds each remote fetch. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Debug enables verbose diagnostics on stderr.
	Debug bool

	// SilentMode suppresses all diagnostics below error level. Takes
	// precedence over Debug.
	SilentMode bool

	// EnableMemoryLock asks the OS to keep process memory out of swap
	// while secrets are cached. Best effort; see Stats.MemoryProtected.
	EnableMemoryLock bool

	// CacheDir overrides the disk cache directory (development only).
	CacheDir string

	// Registry shares warm in-memory caches across clients holding the
	// same credential. Nil means a private, unshared cache.
	Registry *cache.Registry

	// Audit enables operation-event logging. Nil disables it.
	Audit *audit.Config

	// HTTPClient overrides the transport, mainly for tests. Nil means a
	// tuned default client honoring RequestTimeout.
	HTTPClient *http.Client
}

// withDefaults resolves the environment fallback and fills zero values.
func (c Config) withDefaults() Config {
	if c.APIKey == "" {
		c.APIKey = os.Getenv(EnvAPIKey)
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}
