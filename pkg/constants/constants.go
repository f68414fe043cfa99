// Package constants defines system-wide constants for the Daybook auth service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Token Type Constants
// ================================================================================

// TokenType represents the type of a signed token. The type is fixed at mint
// time and never reinterpreted during verification.
type TokenType string

const (
	// TokenTypeAccess represents a short-lived access token
	TokenTypeAccess TokenType = "access"

	// TokenTypeRefresh represents a long-lived refresh token
	TokenTypeRefresh TokenType = "refresh"

	// TokenTypeM2M represents a machine-to-machine token for service calls
	TokenTypeM2M TokenType = "m2m"

	// TokenTypeSession represents a token bound to a browser session
	TokenTypeSession TokenType = "session"
)

// IsValid reports whether the token type is one of the known types.
func (t TokenType) IsValid() bool {
	switch t {
	case TokenTypeAccess, TokenTypeRefresh, TokenTypeM2M, TokenTypeSession:
		return true
	}
	return false
}

// ================================================================================
// Signing Algorithm Constants
// ================================================================================

const (
	// AlgorithmEdDSA is the only signature algorithm the service accepts.
	// Any other value in a token header, including "none", is rejected.
	AlgorithmEdDSA = "EdDSA"
)

// ================================================================================
// Key Lifecycle Constants
// ================================================================================

// KeyStatus represents the lifecycle status of a signing key.
type KeyStatus string

const (
	// KeyStatusCurrent is the single key used for signing
	KeyStatusCurrent KeyStatus = "current"

	// KeyStatusNext is the pre-generated successor, verification-only
	KeyStatusNext KeyStatus = "next"

	// KeyStatusRetiring is a demoted key, verification-only within the overlap window
	KeyStatusRetiring KeyStatus = "retiring"

	// KeyStatusRetired is a key outside the overlap window, no longer trusted
	KeyStatusRetired KeyStatus = "retired"
)

// ================================================================================
// Token Lifetime Defaults
// ================================================================================

const (
	// AccessTokenDefaultTTL is the default lifetime for access tokens
	AccessTokenDefaultTTL = 15 * time.Minute

	// RefreshTokenDefaultTTL is the default lifetime for refresh tokens
	RefreshTokenDefaultTTL = 30 * 24 * time.Hour

	// M2MTokenDefaultTTL is the default lifetime for machine-to-machine tokens
	M2MTokenDefaultTTL = time.Hour

	// SessionTokenDefaultTTL is the default lifetime for session-bound tokens
	SessionTokenDefaultTTL = time.Hour
)

// ================================================================================
// Key Rotation Defaults
// ================================================================================

const (
	// KeyMaxAgeDefault is the key age past which rotation is recommended
	KeyMaxAgeDefault = 90 * 24 * time.Hour

	// KeyOverlapWindowDefault is how long a retiring key stays in the
	// verification set. It must cover the longest-lived token type still
	// in circulation, so the default tracks the refresh token TTL.
	KeyOverlapWindowDefault = RefreshTokenDefaultTTL

	// VerificationKeyCacheTTL bounds how stale a cached verification key
	// set may be after a rotation elsewhere in the fleet.
	VerificationKeyCacheTTL = 30 * time.Second
)

// ================================================================================
// Session Defaults
// ================================================================================

const (
	// SessionIdleTimeoutDefault expires sessions with no activity
	SessionIdleTimeoutDefault = 30 * time.Minute

	// SessionHardLimitDefault caps total session lifetime regardless of activity
	SessionHardLimitDefault = 12 * time.Hour

	// SessionRotateEveryRequests forces an id rotation after this many requests
	SessionRotateEveryRequests = 100

	// SessionRotateEveryInterval forces an id rotation after this much time
	SessionRotateEveryInterval = 15 * time.Minute

	// SessionIDBytes is the entropy of a session identifier
	SessionIDBytes = 32
)

// ================================================================================
// Cache Key Namespaces
// ================================================================================

// Every component namespaces its keys in the shared cache; no component
// assumes exclusive ownership of the cache.
const (
	CacheNSSigningKeys   = "auth:keys:"
	CacheNSKeyRing       = "auth:keyring"
	CacheNSRotationLock  = "auth:keys:rotation-lock"
	CacheNSRevokedJTI    = "auth:revoked:jti:"
	CacheNSRevokedSub    = "auth:revoked:sub:"
	CacheNSFingerprint   = "auth:rt:fp:"
	CacheNSFingerprintIx = "auth:rt:sub:"
	CacheNSSession       = "auth:session:"
	CacheNSSessionIx     = "auth:session:sub:"
	CacheNSSecrets       = "auth:secrets:"
	CacheNSRateLimit     = "auth:rl:"
)

// ================================================================================
// Cookie Names
// ================================================================================

const (
	// RefreshCookieName carries the refresh token for browser flows
	RefreshCookieName = "daybook_refresh"

	// SessionCookieName carries the server-side session identifier
	SessionCookieName = "daybook_session"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is a typed key for request-scoped context values.
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyUserID    ContextKey = "user_id"
	ContextKeyClaims    ContextKey = "claims"
	ContextKeySession   ContextKey = "session"
)

// ================================================================================
// Audit Event Types
// ================================================================================

// AuditEventType classifies audit events emitted by the auth core.
type AuditEventType string

const (
	AuditEventLogin            AuditEventType = "auth.login"
	AuditEventLogout           AuditEventType = "auth.logout"
	AuditEventTokenIssued      AuditEventType = "auth.token.issued"
	AuditEventTokenRevoked     AuditEventType = "auth.token.revoked"
	AuditEventTokenRefreshed   AuditEventType = "auth.token.refreshed"
	AuditEventReuseDetected    AuditEventType = "auth.token.reuse_detected"
	AuditEventMassRevocation   AuditEventType = "auth.token.mass_revocation"
	AuditEventKeyRotated       AuditEventType = "auth.key.rotated"
	AuditEventKeyRegenerated   AuditEventType = "auth.key.regenerated"
	AuditEventSessionCreated   AuditEventType = "auth.session.created"
	AuditEventSessionRotated   AuditEventType = "auth.session.rotated"
	AuditEventSessionElevated  AuditEventType = "auth.session.elevated"
	AuditEventSessionDestroyed AuditEventType = "auth.session.destroyed"
)

// ================================================================================
// Service Identity
// ================================================================================

const (
	// ServiceName identifies this service in logs, traces, and metrics
	ServiceName = "daybook-auth"

	// DefaultIssuer is the iss claim stamped on every token
	DefaultIssuer = "https://auth.daybook.io"
)
