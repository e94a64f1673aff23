// Package validation checks user-supplied input before it reaches the store.
package validation

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidEmail is returned for any malformed e-mail address.
var ErrInvalidEmail = errors.New("invalid email address")

// Patterns follow the dot-atom / quoted-string user part and hostname rules
// used by Django's EmailValidator.
var (
	emailUserPart = regexp.MustCompile(
		"(?i)^(?:[-!#$%&'*+/=?^_`{}|~0-9A-Z]+(?:\\.[-!#$%&'*+/=?^_`{}|~0-9A-Z]+)*" +
			`|"(?:[\x01-\x08\x0b\x0c\x0e-\x1f!#-\[\]-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])*")\z`)
	emailDomainPart = regexp.MustCompile(
		`(?i)^(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+[A-Z0-9-]{2,63}\z`)
)

// Email returns ErrInvalidEmail unless value is a syntactically valid
// address. The user part ends at the first "@".
func Email(value string) error {
	if value == "" {
		return ErrInvalidEmail
	}
	if !strings.Contains(value, "@") || !strings.Contains(value, ".") {
		return ErrInvalidEmail
	}

	user, domain, _ := strings.Cut(value, "@")
	if !emailUserPart.MatchString(user) {
		return ErrInvalidEmail
	}
	// The top-level label may contain hyphens but not end with one.
	if !emailDomainPart.MatchString(domain) || strings.HasSuffix(domain, "-") {
		return ErrInvalidEmail
	}
	return nil
}
