package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// ErrRevoked is returned when a write targets an API key that has already
// been revoked. Revocation is permanent.
var ErrRevoked = errors.New("api key revoked")
