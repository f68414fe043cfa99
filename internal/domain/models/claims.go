package models

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/utils"
)

// Claims represents the signed token payload. It embeds the standard
// registered claims and adds the Daybook-specific fields.
type Claims struct {
	jwt.RegisteredClaims

	// TokenType is fixed at mint time and never reinterpreted.
	TokenType constants.TokenType `json:"type"`

	// Scope is the space-delimited set of granted scopes.
	Scope string `json:"scope,omitempty"`

	// RotationID links a refresh token to its persisted session record.
	RotationID string `json:"rid,omitempty"`

	// SessionID links a token to a server-side session.
	SessionID string `json:"sid,omitempty"`

	// ServiceName identifies the calling service on m2m tokens.
	ServiceName string `json:"service_name,omitempty"`
}

// Scopes returns the granted scopes as a set.
func (c *Claims) Scopes() utils.ScopeSet {
	return utils.ParseScopes(c.Scope)
}

// HasAudience reports whether aud contains the given audience.
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}
