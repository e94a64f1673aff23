package security

import (
	"strings"
	"testing"
)

func newTestHasher(t *testing.T, scheme Scheme) *Hasher {
	t.Helper()
	h, err := NewHasher("test-secret-key", scheme)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestNewHasherRequiresSecret(t *testing.T) {
	if _, err := NewHasher("", SchemeSHA3); err != ErrEmptySecret {
		t.Errorf("expected ErrEmptySecret, got %v", err)
	}
	if _, err := NewHasher("x", Scheme("md5")); err == nil {
		t.Error("expected error for unknown scheme")
	}
	h, err := NewHasher("x", "")
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if h.Scheme() != SchemeSHA3 {
		t.Errorf("default scheme = %q, want %q", h.Scheme(), SchemeSHA3)
	}
}

func TestParseScheme(t *testing.T) {
	for in, want := range map[string]Scheme{"": SchemeSHA3, "SHA3": SchemeSHA3, "argon2id": SchemeArgon2id} {
		got, err := ParseScheme(in)
		if err != nil {
			t.Errorf("ParseScheme(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseScheme(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseScheme("bcrypt"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestHashDeterministic(t *testing.T) {
	for _, scheme := range []Scheme{SchemeSHA3, SchemeArgon2id} {
		h := newTestHasher(t, scheme)
		a := h.Hash("correct horse", "salt-one")
		b := h.Hash("correct horse", "salt-one")
		if a != b {
			t.Errorf("%s: hash not deterministic: %q != %q", scheme, a, b)
		}
		if len(a) != 64 {
			t.Errorf("%s: expected 64 hex chars, got %d", scheme, len(a))
		}
	}
}

func TestHashDependsOnSalt(t *testing.T) {
	h := newTestHasher(t, SchemeSHA3)
	s1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	s2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if s1 == s2 {
		t.Fatal("two generated salts collided")
	}
	if h.Hash("pw", s1) == h.Hash("pw", s2) {
		t.Error("different salts produced the same hash")
	}
}

func TestHashDependsOnSecret(t *testing.T) {
	h1, _ := NewHasher("secret-a", SchemeSHA3)
	h2, _ := NewHasher("secret-b", SchemeSHA3)
	if h1.Hash("pw", "salt") == h2.Hash("pw", "salt") {
		t.Error("different secrets produced the same hash")
	}
}

func TestVerify(t *testing.T) {
	h := newTestHasher(t, SchemeSHA3)
	salt, _ := GenerateSalt()
	stored := h.Hash("hunter2", salt)

	if !h.Verify("hunter2", salt, stored) {
		t.Error("expected correct password to verify")
	}
	if h.Verify("hunter3", salt, stored) {
		t.Error("expected wrong password to fail")
	}
	if h.Verify("hunter2", SentinelSalt, SentinelHash) {
		t.Error("sentinel hash must never verify")
	}
}

func TestGenerateSaltFormat(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if len(salt) != len(SentinelSalt) {
		t.Errorf("salt length = %d, want %d", len(salt), len(SentinelSalt))
	}
	if strings.Trim(salt, "0123456789abcdef") != "" {
		t.Errorf("salt %q is not lowercase hex", salt)
	}
}

func TestGenerateKeyUnique(t *testing.T) {
	const trials = 10000
	seen := make(map[string]struct{}, trials)
	for i := 0; i < trials; i++ {
		key, err := GenerateKey("learner@example.com")
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key after %d trials", i)
		}
		seen[key] = struct{}{}
	}
}

func TestGenerateKeyFormat(t *testing.T) {
	key, err := GenerateKey("learner@example.com")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("key %q missing prefix %q", key, KeyPrefix)
	}
	// SHA3-512 digest is 64 bytes, 128 hex chars.
	if got := len(key) - len(KeyPrefix); got != 128 {
		t.Errorf("digest length = %d, want 128", got)
	}
	if strings.Contains(key, "learner") {
		t.Error("key must not embed the user identifier")
	}
}
