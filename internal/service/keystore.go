package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/model"
	"github.com/dugong-app/dugong/internal/security"
	"github.com/dugong-app/dugong/internal/telemetry"
)

// KeyGenerator mints a new opaque token for a user identifier.
type KeyGenerator func(userIdentifier string) (string, error)

// KeyStore issues, resolves and revokes API keys while keeping at most one
// active key per user.
type KeyStore struct {
	store    *config.Store
	generate KeyGenerator
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewKeyStore creates a KeyStore that mints tokens with security.GenerateKey.
// metrics may be nil.
func NewKeyStore(store *config.Store, metrics *telemetry.Metrics, logger *slog.Logger) *KeyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyStore{
		store:    store,
		generate: security.GenerateKey,
		metrics:  metrics,
		logger:   logger,
	}
}

// GetOrCreateActiveKey returns the user's active key, minting a new READ key
// when the user has none or the most recent one is revoked.
func (k *KeyStore) GetOrCreateActiveKey(ctx context.Context, user *model.User) (*model.APIKey, error) {
	if !user.Persisted() {
		return nil, &PreconditionError{Op: "get or create active key", Reason: "user has not been persisted"}
	}

	mint := func() (*model.APIKey, error) {
		token, err := k.generate(user.Email)
		if err != nil {
			return nil, fmt.Errorf("generate api key: %w", err)
		}
		return &model.APIKey{Key: token, Level: model.LevelRead}, nil
	}

	key, created, err := k.store.GetOrCreateActiveAPIKey(ctx, user.ID, mint)
	if errors.Is(err, config.ErrConflict) {
		// Another instance inserted the active key first; read it back.
		key, created, err = k.store.GetOrCreateActiveAPIKey(ctx, user.ID, mint)
	}
	if err != nil {
		return nil, err
	}

	if created {
		k.metrics.RecordKeyIssued()
		k.logger.Info("api key issued", "user_id", user.ID, "key_id", key.ID, "prefix", key.Prefix())
	}
	return key, nil
}

// Verify looks up a key by token. It does not reject revoked keys; callers
// check Active.
func (k *KeyStore) Verify(ctx context.Context, token string) (*model.APIKey, error) {
	if token == "" {
		return nil, config.ErrNotFound
	}
	return k.store.GetAPIKeyByToken(ctx, token)
}

// Revoke sets the key's level to revoked. Revoking a revoked key is a no-op.
// The row is retained.
func (k *KeyStore) Revoke(ctx context.Context, key *model.APIKey) error {
	if key == nil || key.ID == 0 {
		return &PreconditionError{Op: "revoke api key", Reason: "key has not been persisted"}
	}
	wasActive := !key.IsRevoked && key.Level != model.LevelRevoked

	if err := k.store.RevokeAPIKey(ctx, key.ID); err != nil {
		return err
	}
	key.Level = model.LevelRevoked
	key.IsRevoked = true

	if wasActive {
		k.metrics.RecordKeyRevoked(1)
		k.logger.Info("api key revoked", "user_id", key.UserID, "key_id", key.ID, "prefix", key.Prefix())
	}
	return nil
}

// RevokeAllForUser revokes every active key of a user.
func (k *KeyStore) RevokeAllForUser(ctx context.Context, userID int64) error {
	n, err := k.store.RevokeUserAPIKeys(ctx, userID)
	if err != nil {
		return err
	}
	if n > 0 {
		k.metrics.RecordKeyRevoked(int(n))
		k.logger.Info("api keys revoked", "user_id", userID, "count", n)
	}
	return nil
}

// History returns every key ever issued to a user, newest first.
func (k *KeyStore) History(ctx context.Context, userID int64) ([]model.APIKey, error) {
	return k.store.ListAPIKeysForUser(ctx, userID)
}

// FindByPrefix returns the single key whose token starts with prefix.
func (k *KeyStore) FindByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	if prefix == "" {
		return nil, config.ErrNotFound
	}
	keys, err := k.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, err
	}
	var match *model.APIKey
	for i := range keys {
		if strings.HasPrefix(keys[i].Key, prefix) {
			if match != nil {
				return nil, fmt.Errorf("prefix %q matches more than one key", prefix)
			}
			match = &keys[i]
		}
	}
	if match == nil {
		return nil, config.ErrNotFound
	}
	return match, nil
}

// ParseBearer extracts the token from an Authorization header of the form
// "Bearer <token>". The scheme must match exactly and the trimmed token must
// be non-empty.
func ParseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
