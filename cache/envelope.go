package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/Thomah6/fetchyourkeys-go/api"
	"github.com/Thomah6/fetchyourkeys-go/internal/keymat"
)

// v1 blob layout: hex(iv):hex(tag):hex(ciphertext). The IV is 16 bytes
// rather than GCM's default 12 to stay compatible with caches written by
// earlier releases of this SDK.
const (
	ivSize  = 16
	tagSize = 16
)

// errForeignEnvelope marks a structurally valid envelope sealed by a
// different credential.
var errForeignEnvelope = errors.New("envelope sealed by another credential")

// envelope is the plaintext payload of a cache blob. Signature binds the
// contents to the credential that wrote them.
type envelope struct {
	Signature string             `json:"signature"`
	Data      map[string]api.Key `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

// sealEnvelope encrypts entries under m's key and returns the v1 blob.
func sealEnvelope(m *keymat.Material, entries map[string]api.Key, ts time.Time) (string, error) {
	plain, err := json.Marshal(envelope{
		Signature: m.Signature(),
		Data:      entries,
		Timestamp: ts.UTC(),
	})
	if err != nil {
		return "", &SecurityError{Op: "seal", Err: fmt.Errorf("failed to encode envelope: %w", err)}
	}
	defer memguard.WipeBytes(plain)

	aead, err := newAEAD(m)
	if err != nil {
		return "", err
	}

	// Generate a fresh IV for every write.
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", &SecurityError{Op: "seal", Err: fmt.Errorf("failed to generate iv: %w", err)}
	}

	// Seal appends the auth tag to the ciphertext; split it back out for
	// the wire layout.
	sealed := aead.Seal(nil, iv, plain, nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// openEnvelope decrypts and validates a blob produced by sealEnvelope.
// Every failure is a *SecurityError; an ownership mismatch additionally
// unwraps to errForeignEnvelope.
func openEnvelope(m *keymat.Material, blob string) (*envelope, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return nil, &SecurityError{Op: "open", Err: errors.New("malformed blob: want iv:tag:ciphertext")}
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, &SecurityError{Op: "open", Err: errors.New("malformed iv")}
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, &SecurityError{Op: "open", Err: errors.New("malformed auth tag")}
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, &SecurityError{Op: "open", Err: errors.New("malformed ciphertext")}
	}

	aead, err := newAEAD(m)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &SecurityError{Op: "open", Err: fmt.Errorf("authentication failed: %w", err)}
	}
	defer memguard.WipeBytes(plain)

	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, &SecurityError{Op: "open", Err: fmt.Errorf("failed to decode envelope: %w", err)}
	}
	if !m.Matches(env.Signature) {
		return nil, &SecurityError{Op: "open", Err: errForeignEnvelope}
	}
	if env.Data == nil {
		env.Data = make(map[string]api.Key)
	}
	return &env, nil
}

// newAEAD builds the GCM cipher for m. The key buffer is destroyed before
// returning: aes.NewCipher copies the key into its round schedule.
func newAEAD(m *keymat.Material) (cipher.AEAD, error) {
	keyBuf, err := m.OpenKey()
	if err != nil {
		return nil, &SecurityError{Op: "key", Err: err}
	}
	defer keyBuf.Destroy()

	block, err := aes.NewCipher(keyBuf.Bytes())
	if err != nil {
		return nil, &SecurityError{Op: "key", Err: fmt.Errorf("failed to create cipher: %w", err)}
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, &SecurityError{Op: "key", Err: fmt.Errorf("failed to create gcm: %w", err)}
	}
	return aead, nil
}
