// Package logger provides structured logging for the Daybook auth service.
// The Logger interface decouples components from the backend; the default
// implementation writes JSON through zap and redacts sensitive field values.
package logger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daybook-io/daybook-auth/pkg/constants"
)

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message
	Debug(ctx context.Context, message string, fields ...Field)

	// Info logs an informational message
	Info(ctx context.Context, message string, fields ...Field)

	// Warn logs a warning message
	Warn(ctx context.Context, message string, fields ...Field)

	// Error logs an error message
	Error(ctx context.Context, message string, err error, fields ...Field)

	// WithComponent creates a new logger scoped to a component
	WithComponent(component string) Logger

	// WithFields creates a new logger with additional base fields
	WithFields(fields ...Field) Logger
}

// ================================================================================
// Field Type for Structured Logging
// ================================================================================

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// String creates a string field
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an integer field
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool creates a boolean field
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Time creates a time field in RFC3339
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.Format(time.RFC3339)}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a field with any value
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// ================================================================================
// Zap-backed Implementation
// ================================================================================

type zapLogger struct {
	zl *zap.Logger
}

// New creates a Logger writing JSON to stderr at the given level.
func New(level string) Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		zl = zap.NewNop()
	}
	return &zapLogger{zl: zl}
}

// NewNop creates a Logger that discards everything. Intended for tests.
func NewNop() Logger {
	return &zapLogger{zl: zap.NewNop()}
}

func (l *zapLogger) Debug(ctx context.Context, message string, fields ...Field) {
	l.zl.Debug(message, l.convert(ctx, fields)...)
}

func (l *zapLogger) Info(ctx context.Context, message string, fields ...Field) {
	l.zl.Info(message, l.convert(ctx, fields)...)
}

func (l *zapLogger) Warn(ctx context.Context, message string, fields ...Field) {
	l.zl.Warn(message, l.convert(ctx, fields)...)
}

func (l *zapLogger) Error(ctx context.Context, message string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, Error(err))
	}
	l.zl.Error(message, l.convert(ctx, fields)...)
}

func (l *zapLogger) WithComponent(component string) Logger {
	return &zapLogger{zl: l.zl.With(zap.String("component", component))}
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	zfs := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zfs = append(zfs, zap.Any(f.Key, sanitizeValue(f.Key, f.Value)))
	}
	return &zapLogger{zl: l.zl.With(zfs...)}
}

// convert maps Fields to zap fields and pulls request-scoped values from ctx.
func (l *zapLogger) convert(ctx context.Context, fields []Field) []zap.Field {
	zfs := make([]zap.Field, 0, len(fields)+2)
	if ctx != nil {
		if requestID, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok && requestID != "" {
			zfs = append(zfs, zap.String("request_id", requestID))
		}
		if userID, ok := ctx.Value(constants.ContextKeyUserID).(string); ok && userID != "" {
			zfs = append(zfs, zap.String("user_id", userID))
		}
	}
	for _, f := range fields {
		zfs = append(zfs, zap.Any(f.Key, sanitizeValue(f.Key, f.Value)))
	}
	return zfs
}

// ================================================================================
// Sensitive Value Redaction
// ================================================================================

var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"private_key",
	"authorization",
	"cookie",
}

// sanitizeValue masks values whose keys suggest credential material.
func sanitizeValue(key string, value any) any {
	keyLower := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(keyLower, sk) {
			if s, ok := value.(string); ok && s != "" {
				return maskString(s)
			}
			return "***REDACTED***"
		}
	}
	return value
}

// maskString keeps the first and last four characters of long values.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
