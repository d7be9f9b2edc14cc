package fyk

import (
	"expvar"
	"time"

	"github.com/Thomah6/fetchyourkeys-go/internal/mem"
)

// Stats is a point-in-time snapshot of the client, safe to request at
// any moment, including before initialization settles.
type Stats struct {
	// CachedKeys is the number of records currently cached.
	CachedKeys int `json:"cached_keys"`

	// Online reports whether the last remote interaction succeeded.
	Online bool `json:"online"`

	// State is the settled initialization outcome, "pending" before
	// settlement.
	State InitState `json:"state"`

	// CacheType names the backend, "disk" or "memory".
	CacheType string `json:"cache_type"`

	// CacheID is the credential-derived cache namespace.
	CacheID string `json:"cache_id"`

	// Signature is the credential's ownership signature (not a secret).
	Signature string `json:"signature"`

	// MaskedAPIKey is the display form of the credential.
	MaskedAPIKey string `json:"masked_api_key"`

	// LastSync is when the cache was last written, zero if never.
	LastSync time.Time `json:"last_sync,omitempty"`

	// MemoryProtected reports whether swap protection is active.
	MemoryProtected bool `json:"memory_protected"`
}

// GetStats returns the current snapshot without blocking on readiness.
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	online, lastSync := c.online, c.lastSync
	c.mu.RUnlock()
	if lastSync.IsZero() {
		lastSync = c.store.Timestamp()
	}
	return Stats{
		CachedKeys:      c.store.Size(),
		Online:          online,
		State:           c.State(),
		CacheType:       c.store.Type(),
		CacheID:         c.cacheID,
		Signature:       c.signature,
		MaskedAPIKey:    c.masked,
		LastSync:        lastSync,
		MemoryProtected: c.memLevel != mem.ProtectionNone,
	}
}

// Metrics returns the client's counters as an unregistered expvar map.
// The caller decides whether and under what name to publish it.
func (c *Client) Metrics() *expvar.Map {
	m := new(expvar.Map)
	m.Set("counter_fetches", &c.countFetches)
	m.Set("counter_fetch_failures", &c.countFetchFails)
	m.Set("counter_cache_hits", &c.countHits)
	m.Set("counter_cache_misses", &c.countMisses)
	m.Set("counter_refreshes", &c.countRefreshes)
	return m
}
