// Package fyk is the FetchYourKeys client: it fetches an account's named
// API-key records once at construction, caches them encrypted under key
// material derived from the caller's credential, and serves lookups with
// offline fallback. Construction returns immediately; a background pass
// performs the first fetch and every lookup waits for it to settle.
package fyk

import (
	"context"
	"expvar"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Thomah6/fetchyourkeys-go/api"
	"github.com/Thomah6/fetchyourkeys-go/audit"
	"github.com/Thomah6/fetchyourkeys-go/cache"
	"github.com/Thomah6/fetchyourkeys-go/internal/keymat"
	"github.com/Thomah6/fetchyourkeys-go/internal/mem"
)

// InitState is the settled outcome of the initialization pass. It is
// decided exactly once per client; Refresh can change the online flag but
// never rewrites this state.
type InitState string

const (
	// StatePending means the initialization pass has not settled yet.
	StatePending InitState = "pending"

	// StateOnline means the first fetch succeeded.
	StateOnline InitState = "online-valid"

	// StateOfflineWithCache means the service was unreachable but a prior
	// cache is being served.
	StateOfflineWithCache InitState = "offline-with-cache"

	// StateOfflineEmpty means the service was unreachable and no cache
	// exists; lookups fail until a Refresh succeeds.
	StateOfflineEmpty InitState = "offline-empty"

	// StateUnauthorized and StateForbidden mean the service rejected the
	// credential. Terminal: construct a new client with a corrected key.
	StateUnauthorized InitState = "error-unauthorized"
	StateForbidden    InitState = "error-forbidden"

	// StateNetworkError means a response arrived but was unusable and no
	// cache exists to fall back on.
	StateNetworkError InitState = "error-network"
)

// Client retrieves and caches one credential's API-key records. All
// methods are safe for concurrent use. Construct with New, release with
// Close.
type Client struct {
	cfg    Config
	store  cache.Store
	remote *remoteClient
	log    zerolog.Logger
	audit  audit.Logger

	// Credential-derived identity, computed once at construction. The
	// signature is the client's half of the per-read ownership check
	// against the store.
	signature string
	cacheID   string
	masked    string

	// ready is closed exactly once when the initialization pass settles;
	// initState and initErr are written before the close and read-only
	// after it.
	ready     chan struct{}
	initState InitState
	initErr   *Error

	mu       sync.RWMutex // guards online and lastSync
	online   bool
	lastSync time.Time

	refreshGroup singleflight.Group
	memLevel     mem.ProtectionLevel

	closeOnce sync.Once
	closeErr  error

	countFetches    expvar.Int
	countFetchFails expvar.Int
	countHits       expvar.Int
	countMisses     expvar.Int
	countRefreshes  expvar.Int
}

// New validates cfg, builds the encrypted cache for the credential and
// starts the background initialization pass. It fails fast on a missing
// or implausibly short API key; every other failure mode is absorbed by
// the initialization state machine instead of failing construction.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errMissingCredential()
	}
	if len(cfg.APIKey) < minAPIKeyLen {
		return nil, errInvalidCredential(api.Mask(cfg.APIKey))
	}

	log := newLogger(cfg)

	material, err := keymat.Derive(cfg.APIKey)
	if err != nil {
		return nil, &Error{
			Code:       CodeSecurityError,
			Message:    "failed to derive key material from the API key",
			Suggestion: "report this; it indicates a broken crypto environment",
			cause:      err,
		}
	}
	c := &Client{
		cfg:       cfg,
		log:       log,
		signature: material.Signature(),
		cacheID:   material.CacheID(),
		masked:    material.Masked(),
		ready:     make(chan struct{}),
		initState: StatePending,
	}

	// The factory reuses the material derived above rather than running
	// the slow derivation a second time; the store takes ownership.
	c.store, err = cache.New(cfg.APIKey, cache.Config{
		Environment: cfg.Environment,
		Dir:         cfg.CacheDir,
		Registry:    cfg.Registry,
		Material:    material,
		Logger:      log,
	})
	if err != nil {
		// Only credential validation can fail here; it was already checked
		// above, so this is effectively unreachable.
		return nil, &Error{
			Code:       CodeCacheError,
			Message:    "failed to construct the cache",
			Suggestion: "check the API key and cache directory",
			cause:      err,
		}
	}

	c.remote = newRemoteClient(cfg, c.masked, log)

	c.audit, err = audit.NewLogger(cfg.Audit)
	if err != nil {
		c.store.Close()
		return nil, &Error{
			Code:       CodeCacheError,
			Message:    "failed to open the audit log",
			Suggestion: "check Config.Audit options",
			cause:      err,
		}
	}

	if cfg.EnableMemoryLock {
		level, lockErr := mem.Lock()
		if lockErr != nil {
			log.Warn().Err(lockErr).Msg("memory locking unavailable")
		}
		c.memLevel = level
	}

	go c.initialize()
	return c, nil
}

// initialize is the one-shot pass that reconciles "fail fast on bad
// credentials", "stay usable offline" and "never block the constructor".
// It settles initState exactly once and then releases every waiter.
func (c *Client) initialize() {
	defer close(c.ready)

	hasCachedData := c.store.Size() > 0
	if hasCachedData {
		c.log.Debug().Int("keys", c.store.Size()).Msg("warm cache found")
		c.auditEvent("cache.load", true, map[string]any{"keys": c.store.Size()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	c.countFetches.Add(1)
	keys, ferr := c.remote.fetch(ctx)
	c.auditEvent("keys.fetch", ferr == nil, map[string]any{"keys": len(keys)})
	if ferr == nil {
		if err := c.replaceAll(keys); err != nil {
			// Keys are in hand but the cache will not hold them. Serve the
			// fetch result's shape as best we can: stay offline-flavored.
			c.log.Error().Err(err).Msg("failed to store fetched keys")
			c.settle(StateNetworkError, &Error{
				Code:       CodeCacheError,
				Message:    "fetched keys could not be cached",
				Suggestion: "check disk space and permissions for the cache directory",
				cause:      err,
			})
			return
		}
		c.setOnline(true)
		c.settle(StateOnline, nil)
		c.auditEvent("client.init", true, map[string]any{"state": string(StateOnline), "keys": len(keys)})
		return
	}

	c.countFetchFails.Add(1)
	switch ferr.Code {
	case CodeUnauthorized:
		// A rejected credential must never silently serve old secrets; the
		// cache stays on disk for diagnostics but lookups surface the error.
		c.settle(StateUnauthorized, ferr)
	case CodeForbidden:
		c.settle(StateForbidden, ferr)
	default:
		if hasCachedData {
			c.log.Warn().Str("api_key", c.masked).Msg("service unreachable, serving cached keys offline")
			c.settle(StateOfflineWithCache, nil)
		} else if ferr.transport {
			c.settle(StateOfflineEmpty, &Error{
				Code:       CodeNetworkError,
				Message:    "no connectivity and the local cache is empty",
				Suggestion: "restore connectivity and call Refresh, or pre-warm the cache online once",
				cause:      ferr,
				transport:  true,
			})
		} else {
			c.settle(StateNetworkError, ferr)
		}
	}
	c.auditEvent("client.init", ferr == nil, map[string]any{"state": string(c.initState)})
}

// settle records the initialization outcome. Called exactly once, before
// ready is closed.
func (c *Client) settle(state InitState, err *Error) {
	c.initState = state
	c.initErr = err
	if err != nil {
		c.log.Debug().Str("state", string(state)).Str("code", string(err.Code)).Msg("initialization settled")
	} else {
		c.log.Debug().Str("state", string(state)).Msg("initialization settled")
	}
}

// replaceAll swaps the cache contents for keys, keyed by label. Records
// without a label are dropped by the cache layer.
func (c *Client) replaceAll(keys []api.Key) error {
	entries := make(map[string]api.Key, len(keys))
	for _, k := range keys {
		if k.Label == "" {
			c.log.Warn().Str("service", k.Service).Msg("dropping record without a label")
			continue
		}
		entries[k.Label] = k
	}
	if err := c.store.ReplaceAll(entries); err != nil {
		return err
	}
	c.auditEvent("cache.replace", true, map[string]any{"keys": len(entries)})
	return nil
}

// WaitReady blocks until the initialization pass settles or ctx is done.
// It returns the stored terminal error, if any, so callers can fail fast
// right after construction.
func (c *Client) WaitReady(ctx context.Context) error {
	return c.await(ctx)
}

// Ready reports whether the initialization pass has settled, without
// blocking.
func (c *Client) Ready() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// InitError returns the error stored by the initialization pass, or nil
// when the pass has not settled or settled cleanly. The auth errors are
// permanent; the network-flavored one clears once a Refresh succeeds.
func (c *Client) InitError() error {
	if !c.Ready() {
		return nil
	}
	if err := c.currentError(); err != nil {
		return err
	}
	return nil
}

// State returns the settled initialization state, StatePending before
// settlement.
func (c *Client) State() InitState {
	if !c.Ready() {
		return StatePending
	}
	return c.initState
}

// currentError returns the stored error that should gate lookups right
// now. Auth failures gate forever. The network-flavored errors only gate
// while the client is offline and the cache is empty: a later successful
// Refresh restores service without rewriting the recorded init state.
func (c *Client) currentError() *Error {
	err := c.initErr
	if err == nil {
		return nil
	}
	switch err.Code {
	case CodeUnauthorized, CodeForbidden:
		return err
	}
	if c.Online() || c.store.Size() > 0 {
		return nil
	}
	return err
}

// Online reports whether the last remote interaction succeeded.
func (c *Client) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
	if online {
		c.lastSync = time.Now().UTC()
	}
}

// checkOwnership verifies the store still belongs to this client's
// credential. A mismatch (a stale shared store) clears the cache and
// reports CACHE_INVALID: foreign records are never served and do not
// survive the check.
func (c *Client) checkOwnership() *Error {
	if c.store.Signature() == c.signature {
		return nil
	}
	c.log.Error().Str("cache_id", c.store.CacheID()).Msg("cache failed ownership check, clearing")
	if err := c.store.Clear(); err != nil {
		c.log.Warn().Err(err).Msg("failed to clear foreign cache")
	}
	c.auditEvent("cache.clear", true, map[string]any{"reason": "ownership"})
	return &Error{
		Code:       CodeCacheInvalid,
		Message:    "the cache does not belong to this API key",
		Suggestion: "call Refresh to repopulate it",
	}
}

func (c *Client) auditEvent(action string, success bool, metadata map[string]any) {
	if c.audit == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["api_key"] = c.masked
	metadata["cache_id"] = c.cacheID
	if err := c.audit.Log(action, success, metadata); err != nil {
		c.log.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}

// Close releases the client: memory locks, the audit log and the cache's
// key material. Idempotent. In-flight lookups finish against the closed
// store's last state.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.auditEvent("client.close", true, nil)
		if c.cfg.EnableMemoryLock && c.memLevel != mem.ProtectionNone {
			if err := mem.Unlock(); err != nil {
				c.closeErr = err
			}
		}
		if c.audit != nil {
			if err := c.audit.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
		if err := c.store.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}
