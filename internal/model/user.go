package model

import "time"

// User is an account that can log in with an e-mail address and password.
// The password is stored as a salted hash; neither the hash nor the salt is
// ever serialized.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
	DateJoined   time.Time `json:"creation_date" db:"date_joined"`
}

// Persisted reports whether the user has been assigned a stable identifier
// by the store.
func (u *User) Persisted() bool {
	return u != nil && u.ID > 0
}
