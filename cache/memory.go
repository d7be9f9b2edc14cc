package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thomah6/fetchyourkeys-go/api"
	"github.com/Thomah6/fetchyourkeys-go/internal/keymat"
)

// MemoryStore keeps the sealed envelope in process memory. Records are
// decrypted transiently per operation and never persisted, so nothing
// survives a process restart. Safe for concurrent use.
type MemoryStore struct {
	material *keymat.Material
	log      zerolog.Logger

	mu     sync.RWMutex
	blob   string // sealed envelope, "" when empty
	count  int
	ts     time.Time
	closed bool
}

var _ Store = (*MemoryStore)(nil)

func newMemoryStore(material *keymat.Material, log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		material: material,
		log:      log.With().Str("component", "cache.memory").Logger(),
	}
}

// entriesLocked opens the current envelope, treating an unusable one as
// empty. Callers hold at least a read lock.
func (s *MemoryStore) entriesLocked() map[string]api.Key {
	if s.blob == "" {
		return make(map[string]api.Key)
	}
	env, err := openEnvelope(s.material, s.blob)
	if err != nil {
		s.log.Warn().Err(err).Msg("in-memory envelope unusable, treating as empty")
		return make(map[string]api.Key)
	}
	return env.Data
}

// commitLocked seals entries and swaps them in. Callers hold the write
// lock.
func (s *MemoryStore) commitLocked(entries map[string]api.Key, ts time.Time) error {
	blob, err := sealEnvelope(s.material, entries, ts)
	if err != nil {
		return err
	}
	s.blob = blob
	s.count = len(entries)
	s.ts = ts
	return nil
}

func (s *MemoryStore) Set(label string, key api.Key) error {
	if label == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	entries := s.entriesLocked()
	entries[label] = key.Sanitized()
	return s.commitLocked(entries, time.Now().UTC())
}

func (s *MemoryStore) Get(label string) (api.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.entriesLocked()[label]
	return k, ok
}

func (s *MemoryStore) Has(label string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entriesLocked()[label]
	return ok
}

func (s *MemoryStore) Delete(label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	entries := s.entriesLocked()
	if _, ok := entries[label]; !ok {
		return false, nil
	}
	delete(entries, label)
	return true, s.commitLocked(entries, time.Now().UTC())
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entriesLocked()
	labels := make([]string, 0, len(entries))
	for label := range entries {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.blob = ""
	s.count = 0
	s.ts = time.Time{}
	return nil
}

func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *MemoryStore) ReplaceAll(entries map[string]api.Key) error {
	fresh := sanitizeEntries(entries)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.commitLocked(fresh, time.Now().UTC())
}

func (s *MemoryStore) CacheID() string   { return s.material.CacheID() }
func (s *MemoryStore) Signature() string { return s.material.Signature() }

func (s *MemoryStore) IsValidForAPIKey(apiKey string) bool {
	m, err := keymat.Derive(apiKey)
	if err != nil {
		return false
	}
	defer m.Destroy()
	return m.Matches(s.material.Signature())
}

func (s *MemoryStore) Timestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ts
}

func (s *MemoryStore) Type() string { return TypeMemory }

// Close is a no-op for the memory backend: the owning Registry keeps the
// store warm for other clients holding the same credential. Use
// Registry.Purge to actually release it.
func (s *MemoryStore) Close() error { return nil }

// destroy releases the key material. Called by the owning Registry only.
func (s *MemoryStore) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.blob = ""
	s.count = 0
	s.material.Destroy()
}

// Registry owns the process's MemoryStore instances, keyed by the
// credential-derived cache identifier, so several clients constructed
// with the same credential share one warm cache. Construct one at the
// composition root and inject it; there is no package-level default, and
// clients without an injected registry get private stores.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*MemoryStore)}
}

// GetOrCreate returns the store for material's cache identifier, creating
// it when absent. A cached store is re-validated against material before
// reuse; one that fails the ownership check is destroyed and rebuilt, so
// records written under one credential are never served to another.
// The registry takes ownership of material either way: a reused store
// keeps its original material and the incoming one is destroyed. created
// reports whether a new store was built.
func (r *Registry) GetOrCreate(material *keymat.Material, log zerolog.Logger) (st *MemoryStore, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := material.CacheID()
	if existing, ok := r.stores[id]; ok {
		if material.Matches(existing.Signature()) {
			material.Destroy()
			return existing, false
		}
		// Same cache id, different signature: a stale or colliding entry.
		log.Warn().Str("cache_id", id).Msg("registry entry failed ownership check, rebuilding")
		existing.destroy()
		delete(r.stores, id)
	}

	st = newMemoryStore(material, log)
	r.stores[id] = st
	return st, true
}

// Purge destroys the store for cacheID, reporting whether one existed.
func (r *Registry) Purge(cacheID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[cacheID]
	if !ok {
		return false
	}
	st.destroy()
	delete(r.stores, cacheID)
	return true
}

// PurgeAll destroys every registered store.
func (r *Registry) PurgeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.stores {
		st.destroy()
		delete(r.stores, id)
	}
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
