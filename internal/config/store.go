package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dugong-app/dugong/internal/model"
)

// Store persists users and their API keys. It is backed by SQLite by default
// and can run against PostgreSQL or MySQL through Open.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// NewStore creates a SQLite-backed store in dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "dugong.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open("sqlite", dsn, model.PoolConfig{})
}

// Open connects to the database identified by driver ("sqlite", "postgres"
// or "mysql") and dsn, applies pool settings and runs migrations.
func Open(driver, dsn string, pool model.PoolConfig) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}

	dsn, err = d.prepareDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d.name, err)
	}

	if d.name == "sqlite" {
		// SQLite doesn't support concurrent writes. A single connection also
		// serializes key issuance transactions.
		db.SetMaxOpenConns(1)

		// Enable foreign keys (off by default in SQLite).
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else {
		if pool.MaxOpenConns > 0 {
			db.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			db.SetMaxIdleConns(pool.MaxIdleConns)
		}
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", d.name, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the name of the dialect in use.
func (s *Store) Driver() string {
	return s.dialect.name
}

// insert runs a named INSERT and returns the new row's ID, using RETURNING
// where LastInsertId is unavailable (pgx).
func (s *Store) insert(ctx context.Context, ext sqlx.ExtContext, query string, arg interface{}) (int64, error) {
	if s.dialect.returningID {
		q, args, err := ext.BindNamed(query+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		var id int64
		if err := ext.QueryRowxContext(ctx, q, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := sqlx.NamedExecContext(ctx, ext, query, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. PasswordHash and Salt must already be set.
// The ID and DateJoined fields are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	user.DateJoined = time.Now().UTC()

	const q = `INSERT INTO users (email, password_hash, salt, date_joined)
		VALUES (:email, :password_hash, :salt, :date_joined)`

	id, err := s.insert(ctx, s.db, q, user)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user %q: %w", user.Email, ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.db.Rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail returns a user by its unique e-mail address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.db.Rebind("SELECT * FROM users WHERE email = ?"), email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// FindUser returns the user matching either id or email, mirroring the
// "user_id or email" lookup of the users endpoint. Zero values are ignored.
func (s *Store) FindUser(ctx context.Context, id int64, email string) (*model.User, error) {
	if id > 0 {
		u, err := s.GetUser(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) || email == "" {
			return u, err
		}
	}
	if email != "" {
		return s.GetUserByEmail(ctx, email)
	}
	return nil, ErrNotFound
}

// ListUsers returns all users ordered by e-mail.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserCredential replaces the password hash and salt of a user.
func (s *Store) UpdateUserCredential(ctx context.Context, id int64, passwordHash, salt string) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE users SET password_hash = ?, salt = ? WHERE id = ?"), passwordHash, salt, id)
	if err != nil {
		return fmt.Errorf("update user credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user credential rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user. Its API keys are cascade deleted.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM users WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

const insertAPIKeyQ = `INSERT INTO api_keys (token, level, is_revoked, user_id, date_emitted)
	VALUES (:token, :level, :is_revoked, :user_id, :date_emitted)`

// CreateAPIKey inserts a new API key record. The ID and DateEmitted fields are
// populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.DateEmitted = time.Now().UTC()

	id, err := s.insert(ctx, s.db, insertAPIKeyQ, key)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert api key: %w", ErrConflict)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.db.Rebind("SELECT * FROM api_keys WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// GetAPIKeyByToken looks up an API key by its token value. Revoked keys are
// returned like any other.
func (s *Store) GetAPIKeyByToken(ctx context.Context, token string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, s.db.Rebind("SELECT * FROM api_keys WHERE token = ?"), token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by token: %w", err)
	}
	return &key, nil
}

// LatestAPIKey returns the most recently issued key of a user.
func (s *Store) LatestAPIKey(ctx context.Context, userID int64) (*model.APIKey, error) {
	return latestAPIKey(ctx, s.db, userID)
}

func latestAPIKey(ctx context.Context, q sqlx.QueryerContext, userID int64) (*model.APIKey, error) {
	var key model.APIKey
	query := sqlx.Rebind(sqlx.BindType(driverNameOf(q)),
		"SELECT * FROM api_keys WHERE user_id = ? ORDER BY id DESC LIMIT 1")
	if err := sqlx.GetContext(ctx, q, &key, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeysForUser returns a user's full key history, newest first.
func (s *Store) ListAPIKeysForUser(ctx context.Context, userID int64) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys,
		s.db.Rebind("SELECT * FROM api_keys WHERE user_id = ? ORDER BY id DESC"), userID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ListAPIKeys returns every key in the store, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY id DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// GetOrCreateActiveAPIKey returns the user's active key, calling mint to
// build a new one when the user has no key or its most recent key is revoked.
// Lookup and insert run in one transaction that holds the user's row lock,
// so concurrent callers for the same user observe a single active key. The
// boolean result reports whether a key was created.
func (s *Store) GetOrCreateActiveAPIKey(ctx context.Context, userID int64, mint func() (*model.APIKey, error)) (*model.APIKey, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lockedID int64
	if err := tx.GetContext(ctx, &lockedID,
		tx.Rebind("SELECT id FROM users WHERE id = ?"+s.dialect.lockSuffix), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("lock user: %w", err)
	}

	latest, err := latestAPIKey(ctx, tx, userID)
	switch {
	case err == nil && latest.Active():
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		return latest, false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	key, err := mint()
	if err != nil {
		return nil, false, err
	}
	key.UserID = userID
	key.IsRevoked = false
	key.DateEmitted = time.Now().UTC()

	id, err := s.insert(ctx, tx, insertAPIKeyQ, key)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, fmt.Errorf("insert api key: %w", ErrConflict)
		}
		return nil, false, fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return key, true, nil
}

// RevokeAPIKey sets a key's level to revoked. Revoking an already revoked key
// is a no-op; a missing key yields ErrNotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET level = ?, is_revoked = ? WHERE id = ? AND is_revoked = ?"),
		model.LevelRevoked, true, id, false)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetAPIKey(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RevokeUserAPIKeys revokes every active key of a user and returns how many
// keys changed.
func (s *Store) RevokeUserAPIKeys(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET level = ?, is_revoked = ? WHERE user_id = ? AND is_revoked = ?"),
		model.LevelRevoked, true, userID, false)
	if err != nil {
		return 0, fmt.Errorf("revoke user api keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user api keys rows affected: %w", err)
	}
	return n, nil
}

// SetAPIKeyLevel changes the permission level of an active key. Setting
// LevelRevoked revokes it. Revoked keys cannot be restored (ErrRevoked).
func (s *Store) SetAPIKeyLevel(ctx context.Context, id int64, level model.PermissionLevel) error {
	if !level.Valid() {
		return fmt.Errorf("set api key level: invalid level %d", int(level))
	}
	if level == model.LevelRevoked {
		return s.RevokeAPIKey(ctx, id)
	}

	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET level = ? WHERE id = ? AND is_revoked = ?"), level, id, false)
	if err != nil {
		return fmt.Errorf("set api key level: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set api key level rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetAPIKey(ctx, id); err != nil {
			return err
		}
		return ErrRevoked
	}
	return nil
}

// Counts returns the number of users and of non-revoked API keys.
func (s *Store) Counts(ctx context.Context) (users, activeKeys int64, err error) {
	if err := s.db.GetContext(ctx, &users, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.GetContext(ctx, &activeKeys,
		s.db.Rebind("SELECT COUNT(*) FROM api_keys WHERE is_revoked = ?"), false); err != nil {
		return 0, 0, fmt.Errorf("count active api keys: %w", err)
	}
	return users, activeKeys, nil
}

// driverNameOf returns the driver name of a sqlx handle so shared helpers can
// rebind placeholders for either *sqlx.DB or *sqlx.Tx.
func driverNameOf(q sqlx.QueryerContext) string {
	if d, ok := q.(interface{ DriverName() string }); ok {
		return d.DriverName()
	}
	return ""
}
