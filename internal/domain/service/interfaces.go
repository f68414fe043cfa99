// Package service implements the domain services of the auth core: token
// signing and verification, refresh-token rotation tracking, and server-side
// session lifecycle.
package service

import (
	"context"
	"time"

	"github.com/daybook-io/daybook-auth/internal/domain/models"
	"github.com/daybook-io/daybook-auth/pkg/constants"
)

// KeyProvider is the key-manager capability consumed by the token service.
// Callers never hold private key material across calls; every signing
// operation re-requests the current key.
type KeyProvider interface {
	CurrentSigningKey(ctx context.Context) (*models.SigningKey, error)
	VerificationKeys(ctx context.Context) ([]*models.SigningKey, error)
	VerificationKeyByKID(ctx context.Context, kid string) (*models.SigningKey, error)
}

// AuditRecorder records security events. Fire-and-forget: implementations
// must never block or fail the calling operation.
type AuditRecorder interface {
	RecordEvent(ctx context.Context, subject string, eventType constants.AuditEventType, metadata map[string]any)
}

// SubjectRevoker is the token-service capability the rotation service
// invokes during incident response.
type SubjectRevoker interface {
	RevokeAllForSubject(ctx context.Context, subject string) error
}

// SessionDestroyer is the session-service capability the rotation service
// invokes during incident response.
type SessionDestroyer interface {
	DestroyAll(ctx context.Context, subject string) (int, error)
}

// SignRequest describes a token to mint.
type SignRequest struct {
	Subject     string
	Type        constants.TokenType
	Scopes      []string
	Audience    []string
	TTL         time.Duration // zero means the configured default for Type
	RotationID  string
	SessionID   string
	ServiceName string
}

// VerifyOptions narrows what a verification accepts beyond signature and
// lifetime checks. Zero values mean "no constraint".
type VerifyOptions struct {
	ExpectedType     constants.TokenType
	RequiredScopes   []string
	ExpectedAudience string
}
