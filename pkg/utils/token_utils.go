// Package utils provides small helpers shared across the auth service.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// Fingerprint returns the one-way hash of a serialized token, base64url
// encoded without padding. Fingerprints are lookup keys; the token itself is
// never stored.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RandomID returns n bytes of cryptographic randomness, base64url encoded
// without padding. Used for session identifiers and rotation ids.
func RandomID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
