package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// contextKey is a type for context keys used by the logger package
type contextKey string

const (
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// RunIDKey is the context key for the import run ID
	RunIDKey contextKey = "run_id"
	// JobIDKey is the context key for the scheduler job ID
	JobIDKey contextKey = "job_id"
	// IntegrationIDKey is the context key for the integration ID
	IntegrationIDKey contextKey = "integration_id"
)

// correlationKeys lists the ids carried by a context, in log order
var correlationKeys = []contextKey{RequestIDKey, JobIDKey, RunIDKey, IntegrationIDKey}

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context, returns a no-op logger if not found
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID adds request ID to context and returns enriched logger
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return correlate(ctx, logger, RequestIDKey, requestID)
}

// WithRunID adds the import run ID to context and returns enriched logger
func WithRunID(ctx context.Context, logger *zap.Logger, runID string) (context.Context, *zap.Logger) {
	return correlate(ctx, logger, RunIDKey, runID)
}

// WithJobID adds the scheduler job ID to context and returns enriched logger
func WithJobID(ctx context.Context, logger *zap.Logger, jobID string) (context.Context, *zap.Logger) {
	return correlate(ctx, logger, JobIDKey, jobID)
}

// WithIntegrationID adds the integration ID to context and returns enriched logger
func WithIntegrationID(ctx context.Context, logger *zap.Logger, integrationID string) (context.Context, *zap.Logger) {
	return correlate(ctx, logger, IntegrationIDKey, integrationID)
}

// correlate stores an id in the context and on the logger, and makes that
// logger the context's logger
func correlate(ctx context.Context, logger *zap.Logger, key contextKey, id string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, key, id)
	logger = logger.With(zap.String(string(key), id))
	return WithContext(ctx, logger), logger
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string { return value(ctx, RequestIDKey) }

// GetJobID retrieves the scheduler job ID from context
func GetJobID(ctx context.Context) string { return value(ctx, JobIDKey) }

func value(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// correlationFields returns the ids carried by ctx as log fields, for loggers
// that do not come from the context (the gorm logger)
func correlationFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, key := range correlationKeys {
		if id := value(ctx, key); id != "" {
			fields = append(fields, zap.String(string(key), id))
		}
	}
	return fields
}

// GetTraceID extracts the trace ID from the context's span.
// Returns an empty string if no active span exists or trace is invalid.
func GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// =============================================================================
// ContextLogger
// =============================================================================

// ContextLogger logs through the context's logger and adds the active span's
// trace_id and span_id. Correlation ids already sit on that logger.
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// L returns a ContextLogger from the given context.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx)}
}

func (cl *ContextLogger) enrichedLogger() *zap.Logger {
	l := cl.logger
	if l == nil {
		l = zap.NewNop()
	}
	if spanCtx := trace.SpanContextFromContext(cl.ctx); spanCtx.IsValid() {
		l = l.With(
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return l
}

// Info logs an info level message with trace context.
func (cl *ContextLogger) Info(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Info(msg, fields...)
}

// Warn logs a warning level message with trace context.
func (cl *ContextLogger) Warn(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Warn(msg, fields...)
}

// Error logs an error level message with trace context.
func (cl *ContextLogger) Error(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Error(msg, fields...)
}
