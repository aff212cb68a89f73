package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// TokenIssuer signs and verifies access and refresh tokens.
type TokenIssuer interface {
	IssueAccessToken(userID, email string) (string, time.Time, error)
	IssueRefreshToken(userID, email string) (string, time.Time, error)
	Verify(token string, expected models.TokenType) (*models.TokenClaims, error)
}

// TokenBlacklist records spent refresh tokens by hash. Add must be
// first-writer-wins and report whether this caller wrote the entry.
type TokenBlacklist interface {
	Add(ctx context.Context, tokenHash, userID string, ttl time.Duration) (bool, error)
	Contains(ctx context.Context, tokenHash string) (bool, error)
}

// RefreshCoordinator exchanges a refresh token for a new token pair. Each
// refresh token can be exchanged at most once: the old token is blacklisted
// before the session is moved to the new one, and any failure after that
// leaves the caller with nothing valid.
type RefreshCoordinator struct {
	tokens       TokenIssuer
	sessions     *SessionService
	blacklist    TokenBlacklist
	users        UserRepository
	storeTimeout time.Duration
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	now          func() time.Time
}

// NewRefreshCoordinator creates a new RefreshCoordinator. storeTimeout bounds
// the session update, which runs even if the client goes away.
func NewRefreshCoordinator(
	tokens TokenIssuer,
	sessions *SessionService,
	blacklist TokenBlacklist,
	users UserRepository,
	storeTimeout time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *RefreshCoordinator {
	return &RefreshCoordinator{
		tokens:       tokens,
		sessions:     sessions,
		blacklist:    blacklist,
		users:        users,
		storeTimeout: storeTimeout,
		logger:       logger,
		auditLogger:  auditLogger,
		now:          time.Now,
	}
}

// Refresh rotates refreshToken.
func (c *RefreshCoordinator) Refresh(ctx context.Context, refreshToken string, meta models.SessionMetadata) (*models.TokenPair, error) {
	claims, err := c.tokens.Verify(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		c.reject(ctx, "", meta, "token_verification_failed")
		return nil, err
	}

	tokenHash := HashToken(refreshToken)
	listed, err := c.blacklist.Contains(ctx, tokenHash)
	if err != nil {
		c.logger.Error("blacklist lookup failed", slog.Any("error", err))
		return nil, models.Internal(err)
	}
	if listed {
		c.reject(ctx, claims.UserID, meta, "token_replayed")
		return nil, models.ErrTokenRevoked
	}

	session, err := c.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.reject(ctx, claims.UserID, meta, "session_not_found")
			return nil, models.ErrTokenInvalid
		}
		c.logger.Error("session lookup failed", slog.Any("error", err))
		return nil, models.Internal(err)
	}

	now := c.now()
	switch {
	case session.Revoked:
		c.reject(ctx, claims.UserID, meta, "session_revoked")
		return nil, models.ErrTokenRevoked
	case session.IsExpired(now):
		c.reject(ctx, claims.UserID, meta, "session_expired")
		return nil, models.ErrTokenExpired
	case session.UserID != claims.UserID:
		c.reject(ctx, claims.UserID, meta, "session_user_mismatch")
		return nil, models.ErrTokenInvalid
	}

	user, err := c.users.GetByID(ctx, claims.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		c.logger.Error("user lookup failed", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.Internal(err)
	}
	if user == nil || !user.CanLogin() {
		if revokeErr := c.sessions.Revoke(ctx, session.ID); revokeErr != nil && !errors.Is(revokeErr, models.ErrNotFound) {
			c.logger.Error("failed to revoke session of unavailable user", slog.String("session_id", session.ID), slog.Any("error", revokeErr))
		}
		c.reject(ctx, claims.UserID, meta, "user_unavailable")
		return nil, models.ErrForbidden
	}

	newRefresh, newExpiresAt, err := c.tokens.IssueRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, models.Internal(err)
	}

	added, err := c.blacklist.Add(ctx, tokenHash, user.ID, session.ExpiresAt.Sub(now))
	if err != nil {
		c.logger.Error("failed to blacklist refresh token", slog.String("session_id", session.ID), slog.Any("error", err))
		return nil, models.Internal(err)
	}
	if !added {
		c.reject(ctx, user.ID, meta, "concurrent_refresh")
		return nil, models.ErrTokenRevoked
	}

	// The old token is spent from here on. The session update must not be
	// abandoned halfway because the client hung up.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.storeTimeout)
	defer cancel()
	if err := c.sessions.Rotate(storeCtx, session.ID, refreshToken, newRefresh, newExpiresAt); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.reject(ctx, user.ID, meta, "session_changed")
			return nil, models.ErrTokenRevoked
		}
		c.logger.Error("failed to rotate session", slog.String("session_id", session.ID), slog.Any("error", err))
		return nil, models.Internal(err)
	}

	access, _, err := c.tokens.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, models.Internal(err)
	}

	c.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventTokenRefreshed,
		UserID:    user.ID,
		SessionID: session.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
	})
	return &models.TokenPair{AccessToken: access, RefreshToken: newRefresh}, nil
}

func (c *RefreshCoordinator) reject(ctx context.Context, userID string, meta models.SessionMetadata, reason string) {
	c.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventRefreshRejected,
		UserID:        userID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		FailureReason: reason,
	})
}
