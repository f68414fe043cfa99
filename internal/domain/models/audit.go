package models

import (
	"time"

	"github.com/daybook-io/daybook-auth/pkg/constants"
)

// AuditEvent is the record handed to the audit collaborator. The auth core
// treats audit recording as fire-and-forget: failures are logged, never
// propagated into the primary security decision.
type AuditEvent struct {
	ID        string                   `json:"id" gorm:"primaryKey"`
	Subject   string                   `json:"subject" gorm:"index"`
	EventType constants.AuditEventType `json:"event_type"`
	Metadata  map[string]any           `json:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt time.Time                `json:"created_at"`
}

// TableName sets the storage table for GORM-backed recorders.
func (AuditEvent) TableName() string { return "auth_audit_events" }
