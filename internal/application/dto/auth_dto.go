// Package dto defines the request and response shapes exchanged between the
// transport layer and the application services.
package dto

import "time"

// LoginRequest starts an authenticated session for a user whose credentials
// were already proven by an upstream ceremony.
type LoginRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	Scopes      []string `json:"scopes"`
	Audience    []string `json:"audience"`
	WithSession bool     `json:"with_session"`
	IP          string   `json:"-"`
	UserAgent   string   `json:"-"`
}

// RefreshRequest exchanges a refresh token for a new token pair. The token
// may arrive in the body or in the refresh cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// LogoutRequest ends a session and revokes tokens.
type LogoutRequest struct {
	UserID    string
	SessionID string
	JTI       string
	TokenExp  time.Time
	RevokeAll bool
}

// MintM2MRequest mints a machine-to-machine token for a calling service.
type MintM2MRequest struct {
	ServiceName string   `json:"service_name" binding:"required"`
	Scopes      []string `json:"scopes"`
	Audience    []string `json:"audience"`
	TTL         string   `json:"ttl"`
}

// TokenPairResponse carries a freshly minted token pair.
type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	SessionID    string `json:"-"`
}

// TokenResponse carries a single minted token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// VerifyRequest asks for a token verdict.
type VerifyRequest struct {
	Token            string   `json:"token" binding:"required"`
	ExpectedType     string   `json:"expected_type"`
	RequiredScopes   []string `json:"required_scopes"`
	ExpectedAudience string   `json:"expected_audience"`
}

// VerifyResponse reports a successful verification. Failures never reach
// this shape; they collapse to the generic error body.
type VerifyResponse struct {
	Active  bool     `json:"active"`
	Subject string   `json:"sub,omitempty"`
	Type    string   `json:"type,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
	Expires int64    `json:"exp,omitempty"`
}
