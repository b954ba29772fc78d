package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldItemID    = "item_id"
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"

	// Components
	FieldComponent = "component"
	FieldProvider  = "provider"
	FieldModel     = "model"

	// Temporal
	FieldFireAt   = "fire_at"
	FieldDueAt    = "due_at"
	FieldTimezone = "timezone"
	FieldSource   = "source"
	FieldLocale   = "locale"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"
	FieldHint  = "hint"

	// Counts
	FieldCount    = "count"
	FieldAttempts = "attempts"

	// Status
	FieldState   = "state"
	FieldOutcome = "outcome"
	FieldReason  = "reason"

	// Network
	FieldAddress = "address"

	FieldSymbol = "symbol"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
	userIDKey    contextKey = "logger_user_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithUserID adds the acting user to the context for logging
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if userID, ok := ctx.Value(userIDKey).(string); ok && userID != "" {
		fields = append(fields, FieldUserID, userID)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
//	sched := schedule.New(store, breaker, tr, cfg, logger.ComponentLogger("pulse.schedule"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
