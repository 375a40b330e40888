// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	GlobalLogger = NewLogger(os.Getenv("LOG_LEVEL"))
}

// NewLogger returns a JSON logger at the named level (debug, info, warn, error).
func NewLogger(level string) *Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &Logger{Logger: slog.New(handler)}
}

// SetLevel replaces GlobalLogger with one at the named level.
func SetLevel(level string) {
	GlobalLogger = NewLogger(level)
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
	ViewerID      LogContextKey = "viewer_id"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableStoreLogging   bool
	EnableWSLogging      bool
	EnableSessionLogging bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableStoreLogging:   true,
		EnableWSLogging:      true,
		EnableSessionLogging: true,
	}
)

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// WithViewerID returns a new context carrying the acting viewer's id.
func WithViewerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ViewerID, id)
}

// ExtractViewerID retrieves the acting viewer's id from the context.
func ExtractViewerID(ctx context.Context) string {
	if id, ok := ctx.Value(ViewerID).(string); ok {
		return id
	}
	return ""
}

func attrsFrom(base []any, fields map[string]interface{}) []any {
	for k, v := range fields {
		base = append(base, slog.Any(k, v))
	}
	return base
}

// StoreLogger provides structured logging for record store writes.
type StoreLogger struct {
	service string
	logger  *Logger
}

// NewStoreLogger creates a new StoreLogger for the given service.
func NewStoreLogger(service string) *StoreLogger {
	return &StoreLogger{
		service: service,
		logger:  GlobalLogger,
	}
}

// LogWrite logs a successful store write.
func (l *StoreLogger) LogWrite(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableStoreLogging {
		return
	}
	attrs := attrsFrom([]any{
		slog.String("service", l.service),
		slog.String("operation", operation),
		slog.String("viewer_id", ExtractViewerID(ctx)),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	l.logger.InfoContext(ctx, "store write", attrs...)
}

// LogError logs a failed store write.
func (l *StoreLogger) LogError(ctx context.Context, err error, operation string) {
	StoreWriteErrors.WithLabelValues(operation).Inc()
	if !Config.EnableStoreLogging {
		return
	}
	l.logger.ErrorContext(ctx, "store write failed",
		slog.String("service", l.service),
		slog.String("operation", operation),
		slog.String("viewer_id", ExtractViewerID(ctx)),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
		slog.String("error", err.Error()),
	)
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
	logger  *Logger
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{
		hubName: hubName,
		logger:  GlobalLogger,
	}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, viewerID string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.String("viewer_id", viewerID),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, viewerID string, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.String("viewer_id", viewerID),
		slog.String("reason", reason),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, viewerID string, err error, eventType string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.ErrorContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.String("viewer_id", viewerID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogMessage logs an incoming WebSocket message.
func (l *WSLogger) LogMessage(ctx context.Context, viewerID string, messageType string) {
	WebSocketEventsTotal.WithLabelValues(messageType).Inc()
	if !Config.EnableWSLogging {
		return
	}
	l.logger.DebugContext(ctx, "websocket message",
		slog.String("hub", l.hubName),
		slog.String("viewer_id", viewerID),
		slog.String("message_type", messageType),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// SessionLogger provides structured logging for viewer session lifecycle.
type SessionLogger struct {
	sessionID string
	logger    *Logger
}

// NewSessionLogger creates a new SessionLogger for one session.
func NewSessionLogger(sessionID string) *SessionLogger {
	return &SessionLogger{
		sessionID: sessionID,
		logger:    GlobalLogger,
	}
}

// LogTransition logs a session state change.
func (l *SessionLogger) LogTransition(viewerID, from, to string) {
	SessionTransitions.WithLabelValues(from, to).Inc()
	if !Config.EnableSessionLogging {
		return
	}
	l.logger.Info("session transition",
		slog.String("session_id", l.sessionID),
		slog.String("viewer_id", viewerID),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// LogSignOut logs a forced sign-out.
func (l *SessionLogger) LogSignOut(viewerID, reason string, err error) {
	ForcedSignOuts.WithLabelValues(reason).Inc()
	attrs := []any{
		slog.String("session_id", l.sessionID),
		slog.String("viewer_id", viewerID),
		slog.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.Warn("session signed out", attrs...)
}

// LogEvent logs any other session event.
func (l *SessionLogger) LogEvent(event string, fields map[string]interface{}) {
	if !Config.EnableSessionLogging {
		return
	}
	l.logger.Info("session event", attrsFrom([]any{
		slog.String("session_id", l.sessionID),
		slog.String("event", event),
	}, fields)...)
}

// LogAsyncOperationStart logs the start of an asynchronous operation.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := attrsFrom([]any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.InfoContext(ctx, "async operation started", attrs...)
}

// LogAsyncOperationEnd logs the completion of an asynchronous operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := attrsFrom([]any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.InfoContext(ctx, "async operation completed", attrs...)
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := attrsFrom([]any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}
