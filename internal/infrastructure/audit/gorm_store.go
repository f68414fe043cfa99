package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// GormStore records audit events in a relational table. Used when no Kafka
// brokers are configured; also serves forensic queries over recorded events.
type GormStore struct {
	db  *gorm.DB
	log logger.Logger
}

// NewGormStore opens a PostgreSQL-backed store and migrates the events table.
func NewGormStore(cfg *config.DatabaseConfig, log logger.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return newGormStore(db, log)
}

// newGormStore wraps an open gorm handle; split out so tests can supply an
// in-memory database.
func newGormStore(db *gorm.DB, log logger.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&models.AuditEvent{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, log: log.WithComponent("audit-store")}, nil
}

// RecordEvent inserts the event asynchronously, detached from the caller's
// cancellation. Insert failures are logged and dropped.
func (s *GormStore) RecordEvent(ctx context.Context, subject string, eventType constants.AuditEventType, metadata map[string]any) {
	event := models.AuditEvent{
		ID:        uuid.NewString(),
		Subject:   subject,
		EventType: eventType,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := s.db.WithContext(writeCtx).Create(&event).Error; err != nil {
			s.log.Error(writeCtx, "Failed to store audit event", err,
				logger.String("event_type", string(eventType)))
		}
	}()
}

// EventsForSubject returns the most recent events for a subject, newest
// first, capped at limit.
func (s *GormStore) EventsForSubject(ctx context.Context, subject string, limit int) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := s.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// NopRecorder discards every event. Used in tests and when auditing is
// disabled.
type NopRecorder struct{}

// RecordEvent does nothing.
func (NopRecorder) RecordEvent(context.Context, string, constants.AuditEventType, map[string]any) {}
