// Package audit provides the audit-event recorders consumed by the auth
// core. Recording is fire-and-forget: every implementation absorbs its own
// failures so observability problems never block a security decision.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

const recordTimeout = 5 * time.Second

// KafkaRecorder publishes audit events to a Kafka topic.
type KafkaRecorder struct {
	writer *kafka.Writer
	log    logger.Logger
}

// NewKafkaRecorder creates a Kafka-backed recorder.
func NewKafkaRecorder(cfg *config.KafkaConfig, log logger.Logger) *KafkaRecorder {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return &KafkaRecorder{writer: writer, log: log.WithComponent("audit-kafka")}
}

// RecordEvent publishes the event asynchronously. The write detaches from
// the caller's cancellation so a finished request cannot abort the record.
func (r *KafkaRecorder) RecordEvent(ctx context.Context, subject string, eventType constants.AuditEventType, metadata map[string]any) {
	event := models.AuditEvent{
		ID:        uuid.NewString(),
		Subject:   subject,
		EventType: eventType,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.log.Error(ctx, "Failed to marshal audit event", err)
		return
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		err := r.writer.WriteMessages(writeCtx, kafka.Message{
			Key:   []byte(subject),
			Value: payload,
		})
		if err != nil {
			r.log.Error(writeCtx, "Failed to publish audit event", err,
				logger.String("event_type", string(eventType)))
		}
	}()
}

// Close flushes and closes the underlying writer.
func (r *KafkaRecorder) Close() error {
	return r.writer.Close()
}
