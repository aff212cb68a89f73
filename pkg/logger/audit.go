package logger

import (
	"context"
	"log/slog"
)

// Security event types
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailed       = "login_failed"
	EventAccountLocked     = "account_locked"
	EventRegister          = "register"
	EventTokenRefreshed    = "token_refreshed"
	EventRefreshRejected   = "refresh_rejected"
	EventSessionRevoked    = "session_revoked"
	EventSessionsRevoked   = "sessions_revoked"
	EventPasswordReset     = "password_reset"
	EventResetRequested    = "password_reset_requested"
	EventEmailVerified     = "email_verified"
	EventTwoFactorEnabled  = "two_factor_enabled"
	EventTwoFactorDisabled = "two_factor_disabled"
	EventTwoFactorFailed   = "two_factor_failed"
	EventBackupCodeUsed    = "backup_code_used"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string // masked before logging
	SessionID     string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events to the structured log.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger.With(slog.String("audit", "security"))}
}

// Log records event. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", MaskEmail(event.Email)))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
