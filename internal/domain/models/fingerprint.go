package models

import "time"

// RefreshFingerprint tracks one refresh token's rotation state, keyed by the
// one-way hash of its serialized form. State machine:
//
//	issued -> consumed (linked to successor) -> [reuse detected]
//
// A consumed fingerprint never transitions back; a later presentation of a
// consumed fingerprint is a reuse event and is terminal.
type RefreshFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	UserID      string    `json:"user_id"`
	Consumed    bool      `json:"consumed"`
	RotatedTo   string    `json:"rotated_to,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ConsumedAt  time.Time `json:"consumed_at,omitempty"`
}
