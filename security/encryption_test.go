package security

import (
	"bytes"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("key length = %d, want %d", len(key), KeySize)
	}

	other, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key, other) {
		t.Error("two generated keys are identical")
	}
}

func TestNewEncryptor_KeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewEncryptor(make([]byte, n)); err == nil {
			t.Errorf("NewEncryptor(%d-byte key) = nil error, want error", n)
		}
	}

	if _, err := NewEncryptor(make([]byte, KeySize)); err != nil {
		t.Errorf("NewEncryptor(32-byte key) error = %v", err)
	}
}

func TestSealAndOpen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	plaintext := []byte(`{"sub":"user-123","exp":"2026-01-01T00:00:00Z"}`)

	sealed, err := enc.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "user-123") {
		t.Error("sealed credential leaks plaintext")
	}

	opened, err := enc.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestSeal_UniqueNonce(t *testing.T) {
	key, _ := GenerateKey()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	a, err := enc.Seal([]byte("same payload"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	b, err := enc.Seal([]byte("same payload"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if a == b {
		t.Error("two seals of the same payload are identical")
	}
}

func TestOpen_Failures(t *testing.T) {
	key, _ := GenerateKey()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	sealed, err := enc.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	tests := []struct {
		name       string
		credential string
	}{
		{name: "empty", credential: ""},
		{name: "not base64url", credential: "!!!not-base64!!!"},
		{name: "too short", credential: "AAAA"},
		{name: "truncated", credential: sealed[:len(sealed)-4]},
		{name: "tampered", credential: sealed[:len(sealed)-1] + flipLastChar(sealed)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Open(tt.credential); err == nil {
				t.Error("Open() = nil error, want error")
			}
		})
	}
}

func TestOpen_WrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	enc1, _ := NewEncryptor(key1)
	enc2, _ := NewEncryptor(key2)

	sealed, err := enc1.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := enc2.Open(sealed); err == nil {
		t.Error("Open() under a different key = nil error, want error")
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, _ := GenerateKey()

	encoded := KeyToBase64(key)
	decoded, err := KeyFromBase64(encoded)
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if !bytes.Equal(decoded, key) {
		t.Error("key round trip mismatch")
	}

	if _, err := KeyFromBase64("not base64"); err == nil {
		t.Error("KeyFromBase64(garbage) = nil error, want error")
	}
	if _, err := KeyFromBase64(KeyToBase64([]byte("short"))); err == nil {
		t.Error("KeyFromBase64(short key) = nil error, want error")
	}
}

func flipLastChar(s string) string {
	if s[len(s)-1] == 'A' {
		return "B"
	}
	return "A"
}
