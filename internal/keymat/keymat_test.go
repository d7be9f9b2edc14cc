package keymat

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/Thomah6/fetchyourkeys-go/api"
)

const testCredential = "fk_test_1234567890"

func openKeyBytes(t *testing.T, m *Material) []byte {
	t.Helper()
	buf, err := m.OpenKey()
	if err != nil {
		t.Fatalf("failed to open key: %v", err)
	}
	defer buf.Destroy()
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func TestDeriveDeterministic(t *testing.T) {
	a, err := Derive(testCredential)
	if err != nil {
		t.Fatalf("first derivation failed: %v", err)
	}
	defer a.Destroy()

	b, err := Derive(testCredential)
	if err != nil {
		t.Fatalf("second derivation failed: %v", err)
	}
	defer b.Destroy()

	if a.Signature() != b.Signature() {
		t.Errorf("signatures differ for same credential: %q vs %q", a.Signature(), b.Signature())
	}
	if a.CacheID() != b.CacheID() {
		t.Errorf("cache ids differ for same credential: %q vs %q", a.CacheID(), b.CacheID())
	}
	if !bytes.Equal(openKeyBytes(t, a), openKeyBytes(t, b)) {
		t.Error("encryption keys differ for same credential")
	}
}

func TestDeriveDistinctCredentials(t *testing.T) {
	a, err := Derive(testCredential)
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer a.Destroy()

	b, err := Derive("fk_live_0987654321")
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer b.Destroy()

	if a.Signature() == b.Signature() {
		t.Error("distinct credentials produced the same signature")
	}
	if a.CacheID() == b.CacheID() {
		t.Error("distinct credentials produced the same cache id")
	}
	if bytes.Equal(openKeyBytes(t, a), openKeyBytes(t, b)) {
		t.Error("distinct credentials produced the same encryption key")
	}
}

func TestDerivePurposeSeparation(t *testing.T) {
	m, err := Derive(testCredential)
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer m.Destroy()

	key := openKeyBytes(t, m)

	sig, err := hex.DecodeString(m.Signature())
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	if bytes.Equal(sig, key[:len(sig)]) {
		t.Error("signature bytes match the encryption key prefix")
	}

	id, err := hex.DecodeString(m.CacheID())
	if err != nil {
		t.Fatalf("cache id is not hex: %v", err)
	}
	if bytes.Equal(id, key[:len(id)]) {
		t.Error("cache id bytes match the encryption key prefix")
	}
	if bytes.Equal(id, sig[:len(id)]) {
		t.Error("cache id bytes match the signature prefix")
	}
}

func TestDeriveSizes(t *testing.T) {
	m, err := Derive(testCredential)
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer m.Destroy()

	if got := len(openKeyBytes(t, m)); got != KeySize {
		t.Errorf("key length = %d, want %d", got, KeySize)
	}
	if got := len(m.Signature()); got != signatureSize*2 {
		t.Errorf("signature hex length = %d, want %d", got, signatureSize*2)
	}
	if got := len(m.CacheID()); got != cacheIDSize*2 {
		t.Errorf("cache id hex length = %d, want %d", got, cacheIDSize*2)
	}
}

func TestDeriveEmptyCredential(t *testing.T) {
	if _, err := Derive(""); !errors.Is(err, ErrEmptyCredential) {
		t.Fatalf("expected ErrEmptyCredential, got %v", err)
	}
}

func TestMatches(t *testing.T) {
	a, err := Derive(testCredential)
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer a.Destroy()

	b, err := Derive("fk_live_0987654321")
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer b.Destroy()

	if !a.Matches(a.Signature()) {
		t.Error("material does not match its own signature")
	}
	if a.Matches(b.Signature()) {
		t.Error("material matches a foreign signature")
	}
	if a.Matches("") {
		t.Error("material matches the empty signature")
	}
}

func TestMasked(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"fk_test_1234567890", "fk_t***7890"},
		{"12345678", "***"},
		{"123456789", "1234***6789"},
		{"short", "***"},
	}
	for _, tc := range cases {
		if got := api.Mask(tc.in); got != tc.want {
			t.Errorf("Mask(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	m, err := Derive(testCredential)
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer m.Destroy()
	if m.Masked() != "fk_t***7890" {
		t.Errorf("Masked() = %q, want %q", m.Masked(), "fk_t***7890")
	}
}

func TestDestroy(t *testing.T) {
	m, err := Derive(testCredential)
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	m.Destroy()
	m.Destroy() // idempotent

	if _, err := m.OpenKey(); err == nil {
		t.Fatal("OpenKey succeeded after Destroy")
	}
	// Non-secret accessors stay readable after Destroy.
	if m.Signature() == "" || m.CacheID() == "" {
		t.Error("signature or cache id lost after Destroy")
	}
}
