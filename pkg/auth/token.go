package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateTokenID creates a cryptographically secure random token id.
func GenerateTokenID() string {
	bytes := make([]byte, 16) // 128 bits
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// HashToken returns the hex SHA-256 of a bearer token. The revocation list
// is keyed by this hash so raw tokens never touch the store.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
