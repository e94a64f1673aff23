package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/model"
	"github.com/dugong-app/dugong/internal/security"
)

func newTestKeyStore(t *testing.T) (*KeyStore, *config.Store) {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewKeyStore(store, nil, nil), store
}

func createUser(t *testing.T, store *config.Store, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "h", Salt: "s"}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestGetOrCreateActiveKeyUnpersistedUser(t *testing.T) {
	ks, _ := newTestKeyStore(t)
	var pe *PreconditionError

	if _, err := ks.GetOrCreateActiveKey(context.Background(), &model.User{Email: "new@example.com"}); !errors.As(err, &pe) {
		t.Errorf("got %v, want PreconditionError", err)
	}
	if _, err := ks.GetOrCreateActiveKey(context.Background(), nil); !errors.As(err, &pe) {
		t.Errorf("nil user: got %v, want PreconditionError", err)
	}
}

func TestGetOrCreateActiveKeyIsStable(t *testing.T) {
	ks, _ := newTestKeyStore(t)
	ctx := context.Background()
	u := createUser(t, ks.store, "stable@example.com")

	first, err := ks.GetOrCreateActiveKey(ctx, u)
	if err != nil {
		t.Fatalf("GetOrCreateActiveKey: %v", err)
	}
	if !strings.HasPrefix(first.Key, security.KeyPrefix) {
		t.Errorf("token %q lacks prefix %q", first.Key, security.KeyPrefix)
	}
	if first.Level != model.LevelRead || first.UserID != u.ID {
		t.Errorf("unexpected key %+v", first)
	}

	second, err := ks.GetOrCreateActiveKey(ctx, u)
	if err != nil {
		t.Fatalf("GetOrCreateActiveKey: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("got key %d, want %d", second.ID, first.ID)
	}
}

func TestGetOrCreateActiveKeyConcurrentLogins(t *testing.T) {
	ks, store := newTestKeyStore(t)
	ctx := context.Background()
	u := createUser(t, store, "race@example.com")

	const n = 10
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := ks.GetOrCreateActiveKey(ctx, u)
			if err != nil {
				t.Errorf("GetOrCreateActiveKey: %v", err)
				return
			}
			ids[i] = k.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent callers got different keys: %v", ids)
		}
	}
	history, _ := ks.History(ctx, u.ID)
	if len(history) != 1 {
		t.Errorf("got %d keys, want 1", len(history))
	}
}

func TestGetOrCreateActiveKeyGeneratorError(t *testing.T) {
	ks, store := newTestKeyStore(t)
	u := createUser(t, store, "gen@example.com")
	boom := errors.New("no entropy")
	ks.generate = func(string) (string, error) { return "", boom }

	if _, err := ks.GetOrCreateActiveKey(context.Background(), u); !errors.Is(err, boom) {
		t.Errorf("got %v, want generator error", err)
	}
}

func TestVerify(t *testing.T) {
	ks, store := newTestKeyStore(t)
	ctx := context.Background()
	u := createUser(t, store, "verify@example.com")
	key, _ := ks.GetOrCreateActiveKey(ctx, u)

	got, err := ks.Verify(ctx, key.Key)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("got %d, want %d", got.ID, key.ID)
	}

	if _, err := ks.Verify(ctx, "dugong_missing"); !errors.Is(err, config.ErrNotFound) {
		t.Errorf("missing token = %v, want ErrNotFound", err)
	}
	if _, err := ks.Verify(ctx, ""); !errors.Is(err, config.ErrNotFound) {
		t.Errorf("empty token = %v, want ErrNotFound", err)
	}

	// Revoked keys still resolve.
	_ = ks.Revoke(ctx, key)
	got, err = ks.Verify(ctx, key.Key)
	if err != nil {
		t.Fatalf("Verify revoked: %v", err)
	}
	if got.Active() {
		t.Error("revoked key reported active")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	ks, store := newTestKeyStore(t)
	ctx := context.Background()
	u := createUser(t, store, "revoke@example.com")
	key, _ := ks.GetOrCreateActiveKey(ctx, u)

	if err := ks.Revoke(ctx, key); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if key.Level != model.LevelRevoked || !key.IsRevoked {
		t.Errorf("key not updated in place: %+v", key)
	}
	if err := ks.Revoke(ctx, key); err != nil {
		t.Errorf("second Revoke: %v", err)
	}

	var pe *PreconditionError
	if err := ks.Revoke(ctx, &model.APIKey{}); !errors.As(err, &pe) {
		t.Errorf("unpersisted key = %v, want PreconditionError", err)
	}
}

func TestFindByPrefix(t *testing.T) {
	ks, store := newTestKeyStore(t)
	ctx := context.Background()
	u := createUser(t, store, "prefix@example.com")
	key, _ := ks.GetOrCreateActiveKey(ctx, u)

	got, err := ks.FindByPrefix(ctx, key.Prefix())
	if err != nil {
		t.Fatalf("FindByPrefix: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("got %d, want %d", got.ID, key.ID)
	}
	if _, err := ks.FindByPrefix(ctx, "nomatch"); !errors.Is(err, config.ErrNotFound) {
		t.Errorf("no match = %v, want ErrNotFound", err)
	}

	_ = ks.Revoke(ctx, key)
	if _, err := ks.GetOrCreateActiveKey(ctx, u); err != nil {
		t.Fatalf("GetOrCreateActiveKey: %v", err)
	}
	if _, err := ks.FindByPrefix(ctx, security.KeyPrefix); err == nil {
		t.Error("expected ambiguity error for shared prefix")
	}
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer a b", "a b", true},
		{"Bearer ", "", false},
		{"Bearer    ", "", false},
		{"Bearer", "", false},
		{"bearer abc", "", false},
		{"BEARER abc", "", false},
		{"Token abc", "", false},
		{" Bearer abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := ParseBearer(tt.header)
		if token != tt.token || ok != tt.ok {
			t.Errorf("ParseBearer(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}
