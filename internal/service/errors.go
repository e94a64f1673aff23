package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned by Login for both an unknown username
	// and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated means no usable bearer token was presented: the
	// header was missing or malformed, or the key is unknown or revoked.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInsufficientPermission means the key is valid but below the required level.
	ErrInsufficientPermission = errors.New("insufficient permission level")
	// ErrForbidden means the caller is neither an administrator nor the owner
	// of the target resource.
	ErrForbidden = errors.New("forbidden")
)

// Client-facing messages for the errors above.
const (
	MsgInvalidCredentials = "Password is incorrect or the username entered is not registered."
	MsgUnauthenticated    = "This content requires an authenticated user."
	MsgKeyRevoked         = "API-Key revoked successfully. A new login will generate a new key with basic permissions."
)

// PreconditionError reports an operation attempted on an entity that has not
// been persisted. It is a programming error, never a user-facing condition.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: %s", e.Op, e.Reason)
}
