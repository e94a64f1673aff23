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
	"github.com/dugong-app/dugong/internal/validation"
)

// MinPasswordLength is the shortest password Register and ChangePassword accept.
const MinPasswordLength = 8

// ErrWeakPassword is returned when a new password is too short.
var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// AuthService validates credentials and bearer tokens and resolves the
// caller's permission level.
type AuthService struct {
	store   *config.Store
	keys    *KeyStore
	hasher  *security.Hasher
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewAuthService wires the authenticator. metrics may be nil.
func NewAuthService(store *config.Store, keys *KeyStore, hasher *security.Hasher, metrics *telemetry.Metrics, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:   store,
		keys:    keys,
		hasher:  hasher,
		metrics: metrics,
		logger:  logger,
	}
}

// Keys returns the key store used by the service.
func (s *AuthService) Keys() *KeyStore {
	return s.keys
}

// Login checks username (the user's e-mail) and password and returns the
// user's active API key. Unknown users are hashed against a sentinel so both
// failure causes take the same work and return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string) (*model.APIKey, error) {
	user, err := s.store.GetUserByEmail(ctx, username)
	if err != nil && !errors.Is(err, config.ErrNotFound) {
		s.metrics.RecordLogin(telemetry.LoginError)
		return nil, fmt.Errorf("login: %w", err)
	}

	salt, stored := security.SentinelSalt, security.SentinelHash
	if user != nil {
		salt, stored = user.Salt, user.PasswordHash
	}

	// Hash before deciding anything about the user.
	match := s.hasher.Verify(password, salt, stored)

	if user == nil {
		s.metrics.RecordLogin(telemetry.LoginFailure)
		s.logger.Debug("login failed", "reason", "unknown user")
		return nil, ErrInvalidCredentials
	}
	if !match {
		s.metrics.RecordLogin(telemetry.LoginFailure)
		s.logger.Debug("login failed", "reason", "wrong password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	key, err := s.keys.GetOrCreateActiveKey(ctx, user)
	if err != nil {
		s.metrics.RecordLogin(telemetry.LoginError)
		return nil, fmt.Errorf("login: %w", err)
	}
	s.metrics.RecordLogin(telemetry.LoginSuccess)
	return key, nil
}

// Logout revokes the given key.
func (s *AuthService) Logout(ctx context.Context, key *model.APIKey) error {
	return s.keys.Revoke(ctx, key)
}

// LogoutHeader revokes the key presented in an Authorization header. A
// malformed header yields ErrUnauthenticated; an unknown or already revoked
// key yields config.ErrNotFound.
func (s *AuthService) LogoutHeader(ctx context.Context, header string) error {
	token, ok := ParseBearer(header)
	if !ok {
		return ErrUnauthenticated
	}
	key, err := s.keys.Verify(ctx, token)
	if err != nil {
		return err
	}
	if !key.Active() {
		return config.ErrNotFound
	}
	return s.Logout(ctx, key)
}

// Authenticate resolves an Authorization header to an active key. Missing,
// malformed, unknown and revoked tokens all yield ErrUnauthenticated.
func (s *AuthService) Authenticate(ctx context.Context, header string) (*model.APIKey, error) {
	token, ok := ParseBearer(header)
	if !ok {
		return nil, ErrUnauthenticated
	}
	key, err := s.keys.Verify(ctx, token)
	if err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("authenticate: %w", err)
		}
		return nil, ErrUnauthenticated
	}
	if !key.Active() {
		return nil, ErrUnauthenticated
	}
	return key, nil
}

// Authorize authenticates the header and requires at least the required level.
func (s *AuthService) Authorize(ctx context.Context, header string, required model.PermissionLevel) (*model.APIKey, error) {
	key, err := s.Authenticate(ctx, header)
	if err != nil {
		return nil, err
	}
	if err := CheckLevel(key, required); err != nil {
		return nil, err
	}
	return key, nil
}

// AuthorizeSelfOrAdmin authenticates the header and permits administrators
// and the owner of target.
func (s *AuthService) AuthorizeSelfOrAdmin(ctx context.Context, header string, target *model.User) (*model.APIKey, error) {
	key, err := s.Authenticate(ctx, header)
	if err != nil {
		return nil, err
	}
	if err := CheckSelfOrAdmin(key, target); err != nil {
		return nil, err
	}
	return key, nil
}

// CheckLevel reports whether an already authenticated key reaches required.
func CheckLevel(key *model.APIKey, required model.PermissionLevel) error {
	if !key.Active() {
		return ErrUnauthenticated
	}
	if key.Level < required {
		return ErrInsufficientPermission
	}
	return nil
}

// CheckSelfOrAdmin permits an administrator key or a key owned by target.
func CheckSelfOrAdmin(key *model.APIKey, target *model.User) error {
	if !key.Active() {
		return ErrUnauthenticated
	}
	if key.Level >= model.LevelAdmin {
		return nil
	}
	if target != nil && target.ID != 0 && key.UserID == target.ID {
		return nil
	}
	return ErrForbidden
}

// Register creates a user with a fresh salt. The e-mail must be valid and
// unused (config.ErrConflict otherwise).
func (s *AuthService) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if err := validation.Email(email); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	salt, err := security.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	user := &model.User{
		Email:        email,
		Salt:         salt,
		PasswordHash: s.hasher.Hash(password, salt),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// ChangePassword replaces a user's credential with a new salt and hash and
// revokes the user's active key.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, newPassword string) error {
	if userID == 0 {
		return &PreconditionError{Op: "change password", Reason: "user has not been persisted"}
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	salt, err := security.GenerateSalt()
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if err := s.store.UpdateUserCredential(ctx, userID, s.hasher.Hash(newPassword, salt), salt); err != nil {
		return err
	}
	if err := s.keys.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	s.logger.Info("password changed", "user_id", userID)
	return nil
}

// IssueKey returns the active key of an existing user, creating one if needed.
func (s *AuthService) IssueKey(ctx context.Context, user *model.User) (*model.APIKey, error) {
	return s.keys.GetOrCreateActiveKey(ctx, user)
}

// SetKeyLevel changes a key's permission level and returns the updated key.
// Revoked keys are rejected with config.ErrRevoked.
func (s *AuthService) SetKeyLevel(ctx context.Context, keyID int64, level model.PermissionLevel) (*model.APIKey, error) {
	before, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if level == model.LevelRevoked {
		if err := s.keys.Revoke(ctx, before); err != nil {
			return nil, err
		}
		return before, nil
	}
	if err := s.store.SetAPIKeyLevel(ctx, keyID, level); err != nil {
		return nil, err
	}
	after, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("api key level changed", "key_id", keyID, "from", before.Level, "to", after.Level)
	return after, nil
}
