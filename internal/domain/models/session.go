package models

import (
	"time"
)

// Session is the server-side session state for browser flows, persisted in
// the shared cache keyed by SessionID. It is replaced wholesale on rotation
// or elevation: the old id is deleted and a new id issued for the same
// logical session.
type Session struct {
	SessionID        string            `json:"session_id"`
	UserID           string            `json:"user_id"`
	CreatedAt        time.Time         `json:"created_at"`
	LastActivity     time.Time         `json:"last_activity"`
	IP               string            `json:"ip,omitempty"`
	UserAgent        string            `json:"user_agent,omitempty"`
	IsElevated       bool              `json:"is_elevated"`
	ElevationExpires time.Time         `json:"elevation_expires"`
	RotationCount    int               `json:"rotation_count"`
	LastRotatedAt    time.Time         `json:"last_rotated_at"`
	RequestCount     int               `json:"request_count"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Age returns how long the session has existed.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// IdleFor returns the time since the last authenticated request.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// Expired reports whether the session has exceeded the idle timeout or the
// hard lifetime limit.
func (s *Session) Expired(now time.Time, idleTimeout, hardLimit time.Duration) bool {
	return s.IdleFor(now) > idleTimeout || s.Age(now) > hardLimit
}

// EffectiveTTL returns the cache TTL for the session at this instant:
// min(idle_timeout, hard_limit - age). A non-positive result means the
// session is already past its hard limit.
func (s *Session) EffectiveTTL(now time.Time, idleTimeout, hardLimit time.Duration) time.Duration {
	remaining := hardLimit - s.Age(now)
	if remaining < idleTimeout {
		return remaining
	}
	return idleTimeout
}

// ElevationActive reports whether a privilege elevation is in effect.
func (s *Session) ElevationActive(now time.Time) bool {
	return s.IsElevated && now.Before(s.ElevationExpires)
}

// RequestContext carries the client attributes captured at session creation.
type RequestContext struct {
	IP        string
	UserAgent string
}

// SessionRecord is the persisted session row consulted by the auth
// orchestrator. It links a refresh token's rotation id to a revocable
// server-side record; RefreshRotationID carries a unique constraint.
type SessionRecord struct {
	ID                string
	UserID            string
	RefreshRotationID string
	CreatedAt         time.Time
	RevokedAt         *time.Time
}

// Revoked reports whether the record has been revoked.
func (r *SessionRecord) Revoked() bool { return r.RevokedAt != nil }
