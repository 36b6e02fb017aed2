package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const prefixLen = 8

// Generate creates a new raw key and returns it with its SHA-256 hash and
// display prefix. The raw key is 32 random bytes, base64url without padding.
func Generate() (rawKey, hash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generating random bytes: %w", err)
	}

	rawKey = base64.RawURLEncoding.EncodeToString(b)
	return rawKey, Hash(rawKey), rawKey[:prefixLen], nil
}

// Hash returns the hex SHA-256 digest of a raw key.
func Hash(rawKey string) string {
	h := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(h[:])
}
