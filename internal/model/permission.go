package model

import (
	"fmt"
	"strings"
)

// PermissionLevel is an ordered access tier attached to an API key. Higher
// values grant strictly more than lower ones, so checks are plain integer
// comparisons ("at least LevelEdit").
type PermissionLevel int

const (
	LevelRevoked PermissionLevel = iota
	LevelRead
	LevelReview
	LevelEdit
	LevelCreate
	LevelAdmin
)

// LevelGuest is the level attributed to callers that present no valid key.
const LevelGuest = LevelRevoked

var levelNames = [...]string{
	LevelRevoked: "revoked",
	LevelRead:    "read",
	LevelReview:  "review",
	LevelEdit:    "edit",
	LevelCreate:  "create",
	LevelAdmin:   "admin",
}

func (l PermissionLevel) String() string {
	if l < LevelRevoked || l > LevelAdmin {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the defined levels.
func (l PermissionLevel) Valid() bool {
	return l >= LevelRevoked && l <= LevelAdmin
}

// ParsePermissionLevel accepts a level name (case-insensitive).
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return PermissionLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown permission level %q", s)
}

// MarshalText encodes the level by name so JSON payloads stay readable.
func (l PermissionLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid permission level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (l *PermissionLevel) UnmarshalText(b []byte) error {
	parsed, err := ParsePermissionLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
