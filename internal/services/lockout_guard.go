package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/warden/internal/models"
)

// Lockout scopes
const (
	LockoutScopeEmail   = "email"
	LockoutScopeEmailIP = "email_ip"
)

// LockoutStore persists failure counters and locks. RecordFailure must count
// and decide the lock in one atomic step.
type LockoutStore interface {
	RecordFailure(ctx context.Context, identity string) (models.LockoutStatus, error)
	Status(ctx context.Context, identity string) (models.LockoutStatus, error)
	Clear(ctx context.Context, identity string) error
}

// LockoutGuard tracks failed authentication attempts per identity and
// enforces temporary lockout. Store failures are reported as internal errors
// so callers deny the attempt.
type LockoutGuard struct {
	store  LockoutStore
	scope  string
	logger *slog.Logger
}

// NewLockoutGuard creates a new LockoutGuard
func NewLockoutGuard(store LockoutStore, scope string, logger *slog.Logger) *LockoutGuard {
	if scope != LockoutScopeEmailIP {
		scope = LockoutScopeEmail
	}
	return &LockoutGuard{store: store, scope: scope, logger: logger}
}

// Identity builds the lockout key for a login attempt.
func (g *LockoutGuard) Identity(email, ipAddress string) string {
	email = normalizeEmail(email)
	if g.scope == LockoutScopeEmailIP && ipAddress != "" {
		return email + "|" + ipAddress
	}
	return email
}

// RecordFailedAttempt counts one failure. The returned status is already
// locked when this failure crossed the threshold.
func (g *LockoutGuard) RecordFailedAttempt(ctx context.Context, identity string) (models.LockoutStatus, error) {
	status, err := g.store.RecordFailure(ctx, identity)
	if err != nil {
		g.logger.Error("failed to record failed attempt", slog.Any("error", err))
		return models.LockoutStatus{}, models.Internal(err)
	}
	if status.Locked {
		g.logger.Warn("identity locked out", slog.Time("lockout_ends_at", *status.LockoutEndsAt))
	}
	return status, nil
}

// ClearFailedAttempts resets the counter after a successful login. An active
// lock is not lifted.
func (g *LockoutGuard) ClearFailedAttempts(ctx context.Context, identity string) error {
	if err := g.store.Clear(ctx, identity); err != nil {
		g.logger.Error("failed to clear failed attempts", slog.Any("error", err))
		return models.Internal(err)
	}
	return nil
}

func (g *LockoutGuard) IsLocked(ctx context.Context, identity string) (models.LockoutStatus, error) {
	status, err := g.store.Status(ctx, identity)
	if err != nil {
		g.logger.Error("failed to read lockout status", slog.Any("error", err))
		return models.LockoutStatus{}, models.Internal(err)
	}
	return status, nil
}
