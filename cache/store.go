// Package cache stores fetched key records encrypted at rest, bound to
// the credential that wrote them. Two backends implement the same Store
// interface: DiskStore survives process restarts and provides offline
// fallback, MemoryStore keeps the sealed envelope inside the process.
// Either way the records are only in plaintext transiently, while an
// operation runs.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thomah6/fetchyourkeys-go/api"
)

// MinAPIKeyLen is the shortest credential accepted by New. A fail-fast
// guard against obviously malformed input, not an authentication check.
const MinAPIKeyLen = 10

// Backend names reported by Store.Type.
const (
	TypeDisk   = "disk"
	TypeMemory = "memory"
)

// Normalized environment tags used for backend selection.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

var (
	// ErrMissingAPIKey is returned by New when no credential is supplied.
	ErrMissingAPIKey = errors.New("cache: api key is required")

	// ErrAPIKeyTooShort is returned by New for implausibly short credentials.
	ErrAPIKeyTooShort = fmt.Errorf("cache: api key shorter than %d characters", MinAPIKeyLen)

	// ErrClosed is returned by mutations on a closed store.
	ErrClosed = errors.New("cache: store is closed")
)

// SecurityError reports a cryptographic or ownership failure in the
// envelope codec. Loaders treat it as "cache unusable, proceed as empty".
type SecurityError struct {
	Op  string
	Err error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("cache: security failure in %s: %v", e.Op, e.Err)
}

func (e *SecurityError) Unwrap() error { return e.Err }

// StorageError reports a filesystem failure underneath the disk backend.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cache: storage failure in %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache: storage failure in %s (%s): %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the contract shared by every cache backend. Implementations
// are safe for concurrent use and keep records encrypted at rest under
// the key material they were constructed with.
type Store interface {
	// Set stores or replaces one record. The change is durable before Set
	// returns; the record is sanitized on write.
	Set(label string, key api.Key) error

	// Get returns the record stored under label.
	Get(label string) (api.Key, bool)

	// Has reports whether label is present.
	Has(label string) bool

	// Delete removes label, reporting whether an entry existed.
	Delete(label string) (bool, error)

	// Keys returns a sorted snapshot of all labels.
	Keys() []string

	// Clear removes every record and empties any persisted state.
	// Idempotent, callable even when the backing storage is missing.
	Clear() error

	// Size returns the number of cached records.
	Size() int

	// ReplaceAll atomically swaps the full contents for entries. Readers
	// observe either the previous complete set or the new one, never a mix.
	ReplaceAll(entries map[string]api.Key) error

	// CacheID returns the credential-derived identifier that namespaces
	// this store, stable for the lifetime of the instance.
	CacheID() string

	// Signature returns the ownership signature the store was built with.
	Signature() string

	// IsValidForAPIKey recomputes the expected signature from apiKey and
	// compares it against the store's. This is the sole authority for
	// "does this cache belong to this credential": a store instance can
	// outlive the credential that created it.
	IsValidForAPIKey(apiKey string) bool

	// Timestamp returns the time of the last successful write, zero when
	// the store has never been written.
	Timestamp() time.Time

	// Type names the backend, TypeDisk or TypeMemory.
	Type() string

	// Close releases the store's key material. Further mutations fail
	// with ErrClosed.
	Close() error
}

// sanitizeEntries copies entries, dropping records without a label and
// stripping metadata. Duplicate labels keep the last record seen.
func sanitizeEntries(entries map[string]api.Key) map[string]api.Key {
	out := make(map[string]api.Key, len(entries))
	for label, k := range entries {
		if label == "" {
			continue
		}
		out[label] = k.Sanitized()
	}
	return out
}
