package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// KeyPrefix marks tokens issued by this service.
const KeyPrefix = "dugong_"

const keyEntropyBytes = 64

// GenerateKey derives a new bearer token for the user identified by
// userIdentifier (usually the e-mail address). The token is
// KeyPrefix + hex(SHA3-512(random || identifier)); uniqueness comes from the
// 512 random bits, the identifier only binds the digest to its owner.
func GenerateKey(userIdentifier string) (string, error) {
	seed := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("read random key seed: %w", err)
	}

	d := sha3.New512()
	d.Write(seed)
	d.Write([]byte(userIdentifier))
	return KeyPrefix + hex.EncodeToString(d.Sum(nil)), nil
}
