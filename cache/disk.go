package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thomah6/fetchyourkeys-go/api"
	"github.com/Thomah6/fetchyourkeys-go/internal/keymat"
)

// Owner-only permissions for every cache artifact.
const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700
)

// cacheDirName is the vendor directory under the platform cache root.
const cacheDirName = "fetchyourkeys"

// DefaultDir returns the platform cache directory for this library, e.g.
// ~/.cache/fetchyourkeys on Linux.
func DefaultDir() (string, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return "", &StorageError{Op: "dir", Err: err}
	}
	return filepath.Join(root, cacheDirName), nil
}

// DiskStore persists records in one encrypted file per credential,
// written through on every mutation. Safe for concurrent use within a
// single process; the file is assumed single-process-exclusive.
type DiskStore struct {
	material *keymat.Material
	path     string
	log      zerolog.Logger

	mu      sync.RWMutex
	entries map[string]api.Key
	ts      time.Time
	closed  bool
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates the cache directory if needed and loads any
// existing cache file for the material's credential. An unreadable,
// corrupt or foreign-credential file is discarded and the store starts
// empty; only directory errors fail construction. The store takes
// ownership of material.
func NewDiskStore(material *keymat.Material, dir string, log zerolog.Logger) (*DiskStore, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	// MkdirAll keeps the mode of a directory that already exists.
	if err := os.Chmod(dir, DirPermissions); err != nil {
		return nil, &StorageError{Op: "chmod", Path: dir, Err: err}
	}

	s := &DiskStore{
		material: material,
		path:     filepath.Join(dir, "cache-"+material.CacheID()+".dat"),
		log:      log.With().Str("component", "cache.disk").Logger(),
		entries:  make(map[string]api.Key),
	}
	s.load()
	return s, nil
}

// load reads the existing cache file, if any. It never fails: a file
// that cannot be opened under the current credential is removed and the
// store starts empty. A foreign file is indistinguishable from a corrupt
// one before decryption (GCM authentication fails for both), so every
// open failure discards the file; it is unusable under this credential
// either way.
func (s *DiskStore) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("cache file unreadable, starting empty")
		}
		return
	}
	// A zero-length file is the canonical cleared state.
	if len(raw) == 0 {
		return
	}

	env, err := openEnvelope(s.material, string(raw))
	if err != nil {
		if errors.Is(err, errForeignEnvelope) {
			s.log.Warn().Str("path", s.path).Msg("cache file owned by another credential, removing")
		} else {
			s.log.Warn().Err(err).Str("path", s.path).Msg("cache file unusable, removing and starting empty")
		}
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warn().Err(rmErr).Str("path", s.path).Msg("failed to remove unusable cache file")
		}
		return
	}

	s.entries = env.Data
	s.ts = env.Timestamp
	s.log.Debug().Int("keys", len(env.Data)).Time("written", env.Timestamp).Msg("cache file loaded")
}

// persistLocked seals the current entries and rewrites the cache file.
// Callers hold mu.
func (s *DiskStore) persistLocked() error {
	blob, err := sealEnvelope(s.material, s.entries, s.ts)
	if err != nil {
		return err
	}
	return writeSecureFile(s.path, []byte(blob))
}

// writeSecureFile writes data with restrictive permissions via a temp
// file and rename, so a crash mid-write never leaves a partial cache.
func writeSecureFile(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &StorageError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &StorageError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, FilePermissions); err != nil {
		return &StorageError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func (s *DiskStore) Set(label string, key api.Key) error {
	if label == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries[label] = key.Sanitized()
	s.ts = time.Now().UTC()
	return s.persistLocked()
}

func (s *DiskStore) Get(label string) (api.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.entries[label]
	return k, ok
}

func (s *DiskStore) Has(label string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[label]
	return ok
}

func (s *DiskStore) Delete(label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.entries[label]; !ok {
		return false, nil
	}
	delete(s.entries, label)
	s.ts = time.Now().UTC()
	return true, s.persistLocked()
}

func (s *DiskStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labels := make([]string, 0, len(s.entries))
	for label := range s.entries {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Clear empties the store and truncates the backing file. Idempotent and
// callable when the file is already gone.
func (s *DiskStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries = make(map[string]api.Key)
	s.ts = time.Time{}
	if err := os.Truncate(s.path, 0); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "truncate", Path: s.path, Err: err}
	}
	return nil
}

func (s *DiskStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *DiskStore) ReplaceAll(entries map[string]api.Key) error {
	fresh := sanitizeEntries(entries)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries = fresh
	s.ts = time.Now().UTC()
	return s.persistLocked()
}

func (s *DiskStore) CacheID() string   { return s.material.CacheID() }
func (s *DiskStore) Signature() string { return s.material.Signature() }

func (s *DiskStore) IsValidForAPIKey(apiKey string) bool {
	m, err := keymat.Derive(apiKey)
	if err != nil {
		return false
	}
	defer m.Destroy()
	return m.Matches(s.material.Signature())
}

func (s *DiskStore) Timestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ts
}

func (s *DiskStore) Type() string { return TypeDisk }

// Path returns the backing file location.
func (s *DiskStore) Path() string { return s.path }

// Close releases the store's key material. The cache file stays on disk
// for the next run.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.material.Destroy()
	return nil
}
