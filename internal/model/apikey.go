package model

import "time"

// APIKey is a bearer credential issued to a user on login. Keys are never
// deleted: revocation sets Level to LevelRevoked and IsRevoked to true so the
// row stays available for audit.
type APIKey struct {
	ID          int64           `json:"id" db:"id"`
	Key         string          `json:"key" db:"token"`
	Level       PermissionLevel `json:"level" db:"level"`
	IsRevoked   bool            `json:"is_revoked" db:"is_revoked"`
	UserID      int64           `json:"user_id" db:"user_id"`
	DateEmitted time.Time       `json:"date_emitted" db:"date_emitted"`
}

// Active reports whether the key may still authenticate requests.
func (k *APIKey) Active() bool {
	return k != nil && !k.IsRevoked && k.Level > LevelRevoked
}

// Prefix returns a short, non-secret identifier for the key, suitable for
// display in listings and logs.
func (k *APIKey) Prefix() string {
	const n = 15
	if len(k.Key) <= n {
		return k.Key
	}
	return k.Key[:n]
}
