// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
)

var logger = slog.Default()

// SetLogger replaces the logger used by repository and websocket loggers.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableRepoLogging bool
	EnableWSLogging   bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableRepoLogging: false,
	EnableWSLogging:   true,
}

func attrs(base []any, fields map[string]interface{}) []any {
	for k, v := range fields {
		base = append(base, slog.Any(k, v))
	}
	return base
}

// RepoLogger provides structured logging for repository operations.
type RepoLogger struct {
	tableName string
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(tableName string) *RepoLogger {
	return &RepoLogger{tableName: tableName}
}

// LogWrite logs a repository mutation at debug level.
func (l *RepoLogger) LogWrite(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableRepoLogging {
		return
	}
	logger.DebugContext(ctx, "repository write", attrs([]any{
		slog.String("table", l.tableName),
		slog.String("operation", operation),
	}, fields)...)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	logger.ErrorContext(ctx, "repository error",
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{hubName: hubName}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID uint, sessionID string) {
	if !Config.EnableWSLogging {
		return
	}
	logger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", sessionID),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID uint, sessionID string, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	logger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID uint, sessionID string, err error, eventType string) {
	logger.WarnContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", sessionID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogLifecycle logs a WebSocket hub lifecycle event.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableWSLogging {
		return
	}
	logger.InfoContext(ctx, "websocket lifecycle", attrs([]any{
		slog.String("hub", l.hubName),
		slog.String("event", event),
	}, fields)...)
}
