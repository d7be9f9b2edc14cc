// Package keymat derives all credential-bound key material used by the
// cache layer: the AES-256 encryption key, the short ownership signature
// and the cache identity. Derivation is deterministic, so a later process
// holding the same credential reproduces the exact same material and can
// reopen a cache written by an earlier one.
package keymat

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/scrypt"

	"github.com/Thomah6/fetchyourkeys-go/api"
)

// scrypt cost parameters. Interactive grade: derivation runs once per
// client construction, not per operation.
const (
	scryptN = 16384
	scryptR = 8
	scryptP = 1

	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	signatureSize = 16
	cacheIDSize   = 8
)

// Purpose salts. Each derivation uses its own fixed salt so that the
// signature and cache identity reveal nothing about the encryption key.
// Versioned to allow a coordinated rotation of the on-disk format.
const (
	saltEncryption = "fetchyourkeys.encryption.v1"
	saltSignature  = "fetchyourkeys.signature.v1"
	saltCacheID    = "fetchyourkeys.cache-id.v1"
)

// ErrEmptyCredential is returned by Derive when given an empty credential.
var ErrEmptyCredential = errors.New("keymat: empty credential")

// Material holds everything derived from one credential. The encryption
// key lives in a memguard enclave and is only resident in plaintext while
// a caller holds the buffer returned by OpenKey. Signature, cache identity
// and the masked credential are not secrets.
type Material struct {
	key       *memguard.Enclave
	signature string
	cacheID   string
	masked    string
}

// Derive computes the full key material for apiKey. The caller owns the
// returned Material and must Destroy it when done with it.
func Derive(apiKey string) (*Material, error) {
	if apiKey == "" {
		return nil, ErrEmptyCredential
	}

	// Derive the encryption key first; it is the expensive call.
	keyBytes, err := deriveBytes(apiKey, saltEncryption, KeySize)
	if err != nil {
		return nil, fmt.Errorf("keymat: failed to derive encryption key: %w", err)
	}

	sigBytes, err := deriveBytes(apiKey, saltSignature, signatureSize)
	if err != nil {
		memguard.WipeBytes(keyBytes)
		return nil, fmt.Errorf("keymat: failed to derive signature: %w", err)
	}

	idBytes, err := deriveBytes(apiKey, saltCacheID, cacheIDSize)
	if err != nil {
		memguard.WipeBytes(keyBytes)
		return nil, fmt.Errorf("keymat: failed to derive cache id: %w", err)
	}

	// NewEnclave seals and wipes keyBytes in one step.
	return &Material{
		key:       memguard.NewEnclave(keyBytes),
		signature: hex.EncodeToString(sigBytes),
		cacheID:   hex.EncodeToString(idBytes),
		masked:    api.Mask(apiKey),
	}, nil
}

func deriveBytes(apiKey, salt string, size int) ([]byte, error) {
	return scrypt.Key([]byte(apiKey), []byte(salt), scryptN, scryptR, scryptP, size)
}

// OpenKey opens the enclave and returns the AES key. The caller must
// Destroy the returned buffer as soon as the key has been used.
func (m *Material) OpenKey() (*memguard.LockedBuffer, error) {
	if m == nil || m.key == nil {
		return nil, errors.New("keymat: material has been destroyed")
	}
	return m.key.Open()
}

// Signature returns the hex ownership signature.
func (m *Material) Signature() string { return m.signature }

// CacheID returns the hex cache identity for this credential.
func (m *Material) CacheID() string { return m.cacheID }

// Masked returns the display form of the source credential.
func (m *Material) Masked() string { return m.masked }

// Matches reports in constant time whether sig equals this material's
// signature.
func (m *Material) Matches(sig string) bool {
	return subtle.ConstantTimeCompare([]byte(m.signature), []byte(sig)) == 1
}

// Destroy drops the enclave reference. Safe to call more than once; any
// buffer still open from OpenKey is unaffected.
func (m *Material) Destroy() {
	if m == nil {
		return
	}
	m.key = nil
}
