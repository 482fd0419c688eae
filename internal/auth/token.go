package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// clientTokenBytes is the entropy of an opaque client token (256 bits).
const clientTokenBytes = 32

// GenerateClientToken returns a new opaque bearer token as 64 lowercase
// hex characters. The raw token is returned to the caller exactly once;
// only its hash is ever persisted.
func GenerateClientToken() (string, error) {
	buf := make([]byte, clientTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating client token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest of a raw token. Tokens carry
// 256 bits of entropy, so a plain digest (no salt, no work factor) is
// sufficient and keeps verification a single indexed lookup.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
