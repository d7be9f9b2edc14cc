package cache

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thomah6/fetchyourkeys-go/api"
	"github.com/Thomah6/fetchyourkeys-go/internal/keymat"
)

func testMaterial(t *testing.T, credential string) *keymat.Material {
	t.Helper()
	m, err := keymat.Derive(credential)
	if err != nil {
		t.Fatalf("failed to derive material: %v", err)
	}
	t.Cleanup(m.Destroy)
	return m
}

func testEntries() map[string]api.Key {
	return map[string]api.Key{
		"groq":   {ID: 1, Label: "groq", Service: "groq", Value: "gsk_abc", IsActive: true},
		"openai": {ID: 2, Label: "openai", Service: "openai", Value: "sk-test-123456", IsActive: true},
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	m := testMaterial(t, "fk_test_1234567890")
	ts := time.Now().UTC().Truncate(time.Second)

	blob, err := sealEnvelope(m, testEntries(), ts)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		t.Fatalf("blob has %d parts, want 3", len(parts))
	}
	if len(parts[0]) != ivSize*2 {
		t.Errorf("iv hex length = %d, want %d", len(parts[0]), ivSize*2)
	}
	if len(parts[1]) != tagSize*2 {
		t.Errorf("tag hex length = %d, want %d", len(parts[1]), tagSize*2)
	}

	env, err := openEnvelope(m, blob)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if env.Signature != m.Signature() {
		t.Errorf("signature = %q, want %q", env.Signature, m.Signature())
	}
	if !env.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", env.Timestamp, ts)
	}
	if len(env.Data) != 2 {
		t.Fatalf("entries = %d, want 2", len(env.Data))
	}
	if env.Data["groq"].Value != "gsk_abc" {
		t.Errorf("groq value = %q, want %q", env.Data["groq"].Value, "gsk_abc")
	}
}

func TestEnvelopeFreshIVPerSeal(t *testing.T) {
	m := testMaterial(t, "fk_test_1234567890")
	ts := time.Now()

	a, err := sealEnvelope(m, testEntries(), ts)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	b, err := sealEnvelope(m, testEntries(), ts)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if strings.Split(a, ":")[0] == strings.Split(b, ":")[0] {
		t.Error("two seals reused the same iv")
	}
}

func TestEnvelopeWrongCredential(t *testing.T) {
	a := testMaterial(t, "fk_test_1234567890")
	b := testMaterial(t, "fk_live_0987654321")

	blob, err := sealEnvelope(a, testEntries(), time.Now())
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	if _, err := openEnvelope(b, blob); err == nil {
		t.Fatal("open succeeded under a foreign credential")
	} else {
		var secErr *SecurityError
		if !errors.As(err, &secErr) {
			t.Fatalf("error type = %T, want *SecurityError", err)
		}
	}
}

func TestEnvelopeTamper(t *testing.T) {
	m := testMaterial(t, "fk_test_1234567890")
	blob, err := sealEnvelope(m, testEntries(), time.Now())
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	parts := strings.Split(blob, ":")

	flip := func(hexStr string) string {
		raw, err := hex.DecodeString(hexStr)
		if err != nil {
			t.Fatalf("failed to decode hex: %v", err)
		}
		raw[len(raw)/2] ^= 0xff
		return hex.EncodeToString(raw)
	}

	cases := map[string]string{
		"iv":         flip(parts[0]) + ":" + parts[1] + ":" + parts[2],
		"tag":        parts[0] + ":" + flip(parts[1]) + ":" + parts[2],
		"ciphertext": parts[0] + ":" + parts[1] + ":" + flip(parts[2]),
	}
	for name, tampered := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := openEnvelope(m, tampered); err == nil {
				t.Fatal("open succeeded on a tampered blob")
			}
		})
	}
}

func TestEnvelopeMalformed(t *testing.T) {
	m := testMaterial(t, "fk_test_1234567890")

	for _, blob := range []string{
		"",
		"garbage",
		"aa:bb",
		"xx:yy:zz",
		"aabb:" + strings.Repeat("00", tagSize) + ":deadbeef", // short iv
	} {
		if _, err := openEnvelope(m, blob); err == nil {
			t.Errorf("open accepted malformed blob %q", blob)
		}
	}
}

// A structurally valid envelope whose embedded signature belongs to a
// different credential must be rejected as foreign even when the
// encryption key matches.
func TestEnvelopeForeignSignature(t *testing.T) {
	m := testMaterial(t, "fk_test_1234567890")

	plain, err := json.Marshal(envelope{
		Signature: "deadbeefdeadbeefdeadbeefdeadbeef",
		Data:      testEntries(),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to encode envelope: %v", err)
	}

	aead, err := newAEAD(m)
	if err != nil {
		t.Fatalf("failed to build aead: %v", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("failed to generate iv: %v", err)
	}
	sealed := aead.Seal(nil, iv, plain, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	blob := hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct)

	_, err = openEnvelope(m, blob)
	if !errors.Is(err, errForeignEnvelope) {
		t.Fatalf("error = %v, want errForeignEnvelope", err)
	}
}
