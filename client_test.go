package fyk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomah6/fetchyourkeys-go/api"
	"github.com/Thomah6/fetchyourkeys-go/cache"
)

const testAPIKey = "fk_test_1234567890"

func testKeys() []api.Key {
	return []api.Key{
		{
			ID:       1,
			Label:    "groq",
			Service:  "groq",
			Value:    "gsk_abc",
			IsActive: true,
			Metadata: map[string]any{"internal": "strip-me"},
		},
		{
			ID:       2,
			Label:    "openai",
			Service:  "OpenAI",
			Value:    "sk_xyz",
			IsActive: true,
		},
	}
}

// newKeysServer serves the success shape and counts requests.
func newKeysServer(t *testing.T, keys []api.Key, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if r.Header.Get("x-fyk-key") != testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ok := true
		json.NewEncoder(w).Encode(api.KeysResponse{Success: &ok, Data: keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = testAPIKey
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	cfg.SilentMode = true
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewValidation(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		_, err := New(Config{})
		require.Error(t, err)
		assert.Equal(t, CodeMissingCredential, CodeOf(err))
	})

	t.Run("short key", func(t *testing.T) {
		_, err := New(Config{APIKey: "fk_abc12"})
		require.Error(t, err)
		assert.Equal(t, CodeInvalidCredential, CodeOf(err))
		assert.NotContains(t, err.Error(), "fk_abc12") // raw credential never surfaces
	})

	t.Run("env fallback", func(t *testing.T) {
		srv := newKeysServer(t, testKeys(), nil)
		t.Setenv(EnvAPIKey, testAPIKey)
		c, err := New(Config{BaseURL: srv.URL, CacheDir: t.TempDir(), SilentMode: true})
		require.NoError(t, err)
		defer c.Close()
		require.NoError(t, c.WaitReady(context.Background()))
	})
}

func TestScenario(t *testing.T) {
	srv := newKeysServer(t, testKeys()[:1], nil)
	c := newTestClient(t, Config{BaseURL: srv.URL})
	ctx := context.Background()

	require.NoError(t, c.WaitReady(ctx))
	assert.Equal(t, StateOnline, c.State())
	assert.True(t, c.Online())

	all := c.GetAll(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, "groq", all[0].Label)
	assert.Nil(t, all[0].Metadata, "metadata must be sanitized away")

	res, err := c.Get(ctx, "groq")
	require.NoError(t, err)
	assert.Equal(t, "gsk_abc", res.Key.Value)
	assert.True(t, res.Cached)
	assert.True(t, res.Online)
	assert.Nil(t, res.Key.Metadata)

	_, err = c.Get(ctx, "missing")
	require.Error(t, err)
	var fykErr *Error
	require.ErrorAs(t, err, &fykErr)
	assert.Equal(t, CodeKeyNotFound, fykErr.Code)
	assert.Equal(t, []string{"groq"}, fykErr.Details["availableKeys"])
	assert.Equal(t, 1, fykErr.Details["count"])
	assert.NotEmpty(t, fykErr.Suggestion)

	assert.Equal(t, "fb", c.SafeGet("missing", "fb"))
	assert.Equal(t, "gsk_abc", c.SafeGet("groq", "fb"))

	stats := c.GetStats()
	assert.Equal(t, 1, stats.CachedKeys)
	assert.True(t, stats.Online)
	assert.Equal(t, cache.TypeDisk, stats.CacheType)
	assert.NotContains(t, stats.MaskedAPIKey, "1234567890")
}

func TestUnauthorizedIsTerminal(t *testing.T) {
	dir := t.TempDir()

	// Warm the cache online first.
	srv := newKeysServer(t, testKeys(), nil)
	warm := newTestClient(t, Config{BaseURL: srv.URL, CacheDir: dir})
	require.NoError(t, warm.WaitReady(context.Background()))
	require.NoError(t, warm.Close())

	// Same credential, but the service now rejects it.
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer authSrv.Close()

	c := newTestClient(t, Config{BaseURL: authSrv.URL, CacheDir: dir})
	ctx := context.Background()

	err := c.WaitReady(ctx)
	require.Error(t, err)
	assert.Equal(t, CodeUnauthorized, CodeOf(err))
	assert.Equal(t, StateUnauthorized, c.State())

	// The warm cache must never be served under a rejected credential.
	_, err = c.Get(ctx, "groq")
	assert.Equal(t, CodeUnauthorized, CodeOf(err))
	assert.Empty(t, c.GetAll(ctx))
	assert.Equal(t, "fb", c.SafeGet("groq", "fb"))

	// Refresh cannot rehabilitate it either.
	ok, err := c.Refresh(ctx)
	assert.False(t, ok)
	assert.Equal(t, CodeUnauthorized, CodeOf(err))

	// But stats remain inspectable for diagnostics.
	assert.Equal(t, len(testKeys()), c.GetStats().CachedKeys)
}

func TestForbiddenIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})
	err := c.WaitReady(context.Background())
	assert.Equal(t, CodeForbidden, CodeOf(err))
	assert.Equal(t, StateForbidden, c.State())
}

func TestOfflineWithCache(t *testing.T) {
	dir := t.TempDir()

	srv := newKeysServer(t, testKeys(), nil)
	warm := newTestClient(t, Config{BaseURL: srv.URL, CacheDir: dir})
	require.NoError(t, warm.WaitReady(context.Background()))
	require.NoError(t, warm.Close())

	// Nothing listens on this port: a pure transport failure.
	c := newTestClient(t, Config{
		BaseURL:        "http://127.0.0.1:1/keys",
		CacheDir:       dir,
		RequestTimeout: 2 * time.Second,
	})
	ctx := context.Background()

	require.NoError(t, c.WaitReady(ctx), "offline with cache is not an error")
	assert.Equal(t, StateOfflineWithCache, c.State())
	assert.False(t, c.Online())

	res, err := c.Get(ctx, "groq")
	require.NoError(t, err)
	assert.Equal(t, "gsk_abc", res.Key.Value)
	assert.False(t, res.Online, "lookup must report offline provenance")
}

func TestOfflineEmpty(t *testing.T) {
	c := newTestClient(t, Config{
		BaseURL:        "http://127.0.0.1:1/keys",
		RequestTimeout: 2 * time.Second,
	})
	ctx := context.Background()

	err := c.WaitReady(ctx)
	require.Error(t, err)
	assert.Equal(t, CodeNetworkError, CodeOf(err))
	assert.Equal(t, StateOfflineEmpty, c.State())

	_, err = c.Get(ctx, "groq")
	assert.Equal(t, CodeNetworkError, CodeOf(err))
	assert.Equal(t, "fb", c.SafeGet("groq", "fb"))
	assert.Empty(t, c.GetAll(ctx))
}

func TestBadResponseBodyWithEmptyCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})
	err := c.WaitReady(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeNetworkError, CodeOf(err))
	assert.Equal(t, StateNetworkError, c.State())
}

func TestConcurrentLookupsShareOneInitFetch(t *testing.T) {
	var requests atomic.Int64
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(100 * time.Millisecond)
		ok := true
		json.NewEncoder(w).Encode(api.KeysResponse{Success: &ok, Data: testKeys()})
	}))
	defer slow.Close()

	c := newTestClient(t, Config{BaseURL: slow.URL})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Get(ctx, "groq")
			assert.NoError(t, err)
			assert.Equal(t, "gsk_abc", res.Key.Value)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), requests.Load(), "concurrent lookups must not trigger extra fetches")
}

func TestRefreshTransitions(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		ok := true
		json.NewEncoder(w).Encode(api.KeysResponse{Success: &ok, Data: testKeys()})
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})
	ctx := context.Background()
	require.NoError(t, c.WaitReady(ctx))
	require.True(t, c.Online())

	// Service degrades: refresh fails but stale data stays available.
	failing.Store(true)
	ok, err := c.Refresh(ctx)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, CodeNetworkError, CodeOf(err))
	var fykErr *Error
	require.ErrorAs(t, err, &fykErr)
	assert.Equal(t, true, fykErr.Details["staleAvailable"])
	assert.False(t, c.Online())

	// Cached lookups keep working while offline.
	res, err := c.Get(ctx, "groq")
	require.NoError(t, err)
	assert.False(t, res.Online)

	// Service recovers.
	failing.Store(false)
	ok, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, c.Online())

	// The settled init state never changes.
	assert.Equal(t, StateOnline, c.State())
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(200 * time.Millisecond)
		ok := true
		json.NewEncoder(w).Encode(api.KeysResponse{Success: &ok, Data: testKeys()})
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})
	ctx := context.Background()
	require.NoError(t, c.WaitReady(ctx))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := c.Refresh(ctx)
			assert.True(t, ok)
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	// One request for initialization, one shared flight for the refreshes.
	assert.EqualValues(t, 2, requests.Load())
}

func TestRefreshRecoversOfflineEmptyClient(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ok := true
		json.NewEncoder(w).Encode(api.KeysResponse{Success: &ok, Data: testKeys()})
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})
	ctx := context.Background()
	require.Error(t, c.WaitReady(ctx))

	failing.Store(false)
	ok, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// The stored network error no longer gates lookups.
	require.NoError(t, c.WaitReady(ctx))
	res, err := c.Get(ctx, "groq")
	require.NoError(t, err)
	assert.True(t, res.Online)
}

func TestGetMultiple(t *testing.T) {
	srv := newKeysServer(t, testKeys(), nil)
	c := newTestClient(t, Config{BaseURL: srv.URL})
	ctx := context.Background()

	got, err := c.GetMultiple(ctx, []string{"groq", "missing", "openai"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.NotNil(t, got["groq"])
	assert.Equal(t, "gsk_abc", got["groq"].Value)
	assert.Nil(t, got["missing"], "absent labels map to nil, not an error")
	require.NotNil(t, got["openai"])
	assert.Nil(t, got["groq"].Metadata)
}

func TestFilterAndGetByService(t *testing.T) {
	srv := newKeysServer(t, testKeys(), nil)
	c := newTestClient(t, Config{BaseURL: srv.URL})
	ctx := context.Background()

	active := c.Filter(ctx, func(k api.Key) bool { return k.IsActive })
	assert.Len(t, active, 2)

	// Case-insensitive service match.
	openai := c.GetByService(ctx, "openai")
	require.Len(t, openai, 1)
	assert.Equal(t, "openai", openai[0].Label)

	assert.Empty(t, c.GetByService(ctx, "absent"))
}

func TestProductionUsesMemoryBackend(t *testing.T) {
	srv := newKeysServer(t, testKeys(), nil)
	c := newTestClient(t, Config{BaseURL: srv.URL, Environment: "production"})
	require.NoError(t, c.WaitReady(context.Background()))
	assert.Equal(t, cache.TypeMemory, c.GetStats().CacheType)
}

func TestSharedRegistryWarmStart(t *testing.T) {
	srv := newKeysServer(t, testKeys(), nil)
	reg := cache.NewRegistry()

	first := newTestClient(t, Config{BaseURL: srv.URL, Environment: "production", Registry: reg})
	require.NoError(t, first.WaitReady(context.Background()))
	require.Equal(t, 2, first.GetStats().CachedKeys)

	// A second client sharing the registry sees the warm cache even before
	// its own fetch settles.
	second := newTestClient(t, Config{
		BaseURL:        "http://127.0.0.1:1/keys",
		Environment:    "production",
		Registry:       reg,
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, second.WaitReady(context.Background()))
	assert.Equal(t, StateOfflineWithCache, second.State())
	assert.Equal(t, "gsk_abc", second.SafeGet("groq", "fb"))
}

func TestDiskCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	srv := newKeysServer(t, testKeys(), nil)

	first := newTestClient(t, Config{BaseURL: srv.URL, CacheDir: dir})
	require.NoError(t, first.WaitReady(context.Background()))
	require.NoError(t, first.Close())

	// "Restart": a fresh client, same credential and directory, no server.
	second := newTestClient(t, Config{
		BaseURL:        "http://127.0.0.1:1/keys",
		CacheDir:       dir,
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, second.WaitReady(context.Background()))
	assert.Equal(t, 2, second.GetStats().CachedKeys)
	assert.Equal(t, "sk_xyz", second.SafeGet("openai", "fb"))
}

func TestStatsBeforeReadiness(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		ok := true
		json.NewEncoder(w).Encode(api.KeysResponse{Success: &ok, Data: testKeys()})
	}))
	defer slow.Close()

	c := newTestClient(t, Config{BaseURL: slow.URL})

	// GetStats must not block on initialization.
	stats := c.GetStats()
	assert.Equal(t, StatePending, stats.State)
	assert.False(t, c.Ready())

	require.NoError(t, c.WaitReady(context.Background()))
	assert.True(t, c.Ready())
}

func TestWaitReadyHonorsContext(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer slow.Close()

	c := newTestClient(t, Config{BaseURL: slow.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := newKeysServer(t, testKeys(), nil)
	c := newTestClient(t, Config{BaseURL: srv.URL})
	require.NoError(t, c.WaitReady(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestMetrics(t *testing.T) {
	srv := newKeysServer(t, testKeys(), nil)
	c := newTestClient(t, Config{BaseURL: srv.URL})
	ctx := context.Background()
	require.NoError(t, c.WaitReady(ctx))

	c.SafeGet("groq", "")
	c.SafeGet("missing", "")

	m := c.Metrics()
	assert.Equal(t, "1", m.Get("counter_fetches").String())
	assert.Equal(t, "1", m.Get("counter_cache_hits").String())
	assert.Equal(t, "1", m.Get("counter_cache_misses").String())
}
