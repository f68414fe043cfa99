// Package secrets provides pluggable named-secret storage for signing-key
// material. Implementations are polymorphic over a four-operation contract;
// the production Vault-backed variant is wrapped with an encrypted shared
// cache and a circuit breaker.
package secrets

import "context"

// Backend is the secret-storage contract consumed by the key manager. Paths
// are opaque names; a missing path surfaces errors.ErrNotFound. No other
// contract is assumed about the underlying store.
type Backend interface {
	// Fetch returns the value stored at path.
	Fetch(ctx context.Context, path string) (string, error)

	// Store writes the value at path, replacing any existing value.
	Store(ctx context.Context, path, value string) error

	// Exists reports whether path holds a value.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the value at path.
	Delete(ctx context.Context, path string) error
}
