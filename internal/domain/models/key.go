// Package models defines the domain models for the Daybook auth service.
package models

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/daybook-io/daybook-auth/pkg/constants"
)

// SigningKey is an Ed25519 keypair with lifecycle metadata. Exactly one key
// is current at any time; at most one is next and at most one is retiring.
// Private key material is owned exclusively by the key manager; callers
// receive a reference for the duration of a sign call and never hold it
// across calls.
type SigningKey struct {
	KID        string              `json:"kid"`
	PrivateKey ed25519.PrivateKey  `json:"-"`
	PublicKey  ed25519.PublicKey   `json:"-"`
	Status     constants.KeyStatus `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	// RetiredAt is set when the key is demoted to retiring; the overlap
	// window is measured from this instant.
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

// Age returns how long the key has existed.
func (k *SigningKey) Age(now time.Time) time.Duration {
	return now.Sub(k.CreatedAt)
}

// WithinOverlap reports whether a retiring key is still inside the overlap
// window and may serve verification.
func (k *SigningKey) WithinOverlap(now time.Time, window time.Duration) bool {
	if k.Status != constants.KeyStatusRetiring || k.RetiredAt == nil {
		return false
	}
	return now.Before(k.RetiredAt.Add(window))
}

// signingKeyRecord is the serialized form stored in the secrets backend.
type signingKeyRecord struct {
	KID        string `json:"kid"`
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	RetiredAt  string `json:"retired_at,omitempty"`
}

// MarshalKey serializes a signing key for the secrets backend. Key material
// is base64 raw encoded; the backend is responsible for at-rest protection.
func MarshalKey(k *SigningKey) map[string]any {
	rec := map[string]any{
		"kid":         k.KID,
		"private_key": base64.RawStdEncoding.EncodeToString(k.PrivateKey),
		"public_key":  base64.RawStdEncoding.EncodeToString(k.PublicKey),
		"status":      string(k.Status),
		"created_at":  k.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if k.RetiredAt != nil {
		rec["retired_at"] = k.RetiredAt.UTC().Format(time.RFC3339Nano)
	}
	return rec
}

// UnmarshalKey reconstructs a signing key from its secrets-backend form.
func UnmarshalKey(data map[string]any) (*SigningKey, error) {
	str := func(field string) string {
		s, _ := data[field].(string)
		return s
	}

	priv, err := base64.RawStdEncoding.DecodeString(str("private_key"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	pub, err := base64.RawStdEncoding.DecodeString(str("public_key"))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 key material")
	}

	k := &SigningKey{
		KID:        str("kid"),
		PrivateKey: ed25519.PrivateKey(priv),
		PublicKey:  ed25519.PublicKey(pub),
		Status:     constants.KeyStatus(str("status")),
	}
	if k.KID == "" {
		return nil, fmt.Errorf("missing kid")
	}
	if t, err := time.Parse(time.RFC3339Nano, str("created_at")); err == nil {
		k.CreatedAt = t
	}
	if s := str("retired_at"); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			k.RetiredAt = &t
		}
	}
	return k, nil
}

// KeyRing is the persisted index of kids by lifecycle slot. It is written
// atomically as a whole so concurrent readers see either the pre- or
// post-rotation state, never a mix.
type KeyRing struct {
	Current  string   `json:"current"`
	Next     string   `json:"next,omitempty"`
	Retiring string   `json:"retiring,omitempty"`
	Retired  []string `json:"retired,omitempty"`
}

// JWK is one entry of the public key discovery document.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	X   string `json:"x"`
}

// JWKS is the public key discovery document. Consumers must tolerate more
// than one key during rotation overlap.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// ToJWK converts a signing key's public half to its JWK form.
func (k *SigningKey) ToJWK() JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		Kid: k.KID,
		Use: "sig",
		Alg: constants.AlgorithmEdDSA,
		X:   base64.RawURLEncoding.EncodeToString(k.PublicKey),
	}
}
