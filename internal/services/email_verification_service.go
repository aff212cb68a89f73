package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// ErrVerificationTokenInvalid is returned for unknown, used or expired
// verification tokens.
var ErrVerificationTokenInvalid = models.NewError(models.KindTokenInvalid, "verification token is invalid or expired")

// EmailVerificationService handles email verification business logic
type EmailVerificationService struct {
	tokens      ActionTokenRepository
	users       UserRepository
	mailer      EmailService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	tokenExpiry time.Duration
	now         func() time.Time
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(
	tokens ActionTokenRepository,
	users UserRepository,
	mailer EmailService,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	tokenExpiry time.Duration,
) *EmailVerificationService {
	return &EmailVerificationService{
		tokens:      tokens,
		users:       users,
		mailer:      mailer,
		logger:      logger,
		auditLogger: auditLogger,
		tokenExpiry: tokenExpiry,
		now:         time.Now,
	}
}

// SendVerificationEmail replaces any outstanding verification token for user
// and mails the new one.
func (s *EmailVerificationService) SendVerificationEmail(ctx context.Context, user *models.User) error {
	if _, err := s.tokens.InvalidateAllForUser(ctx, user.ID, models.ActionTokenEmailVerification); err != nil {
		s.logger.Error("failed to invalidate verification tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.Internal(err)
	}

	token, hash, err := newOpaqueToken()
	if err != nil {
		return models.Internal(err)
	}
	expiresAt := s.now().Add(s.tokenExpiry)
	if _, err := s.tokens.Create(ctx, user.ID, hash, models.ActionTokenEmailVerification, expiresAt); err != nil {
		s.logger.Error("failed to store verification token", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.Internal(err)
	}

	if err := s.mailer.SendVerificationEmail(ctx, user.Email, token, expiresAt); err != nil {
		return models.Internal(err)
	}
	return nil
}

// VerifyEmail redeems token and activates the owning account.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrVerificationTokenInvalid
	}

	userID, err := s.tokens.Consume(ctx, HashToken(token), models.ActionTokenEmailVerification)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrVerificationTokenInvalid
		}
		s.logger.Error("failed to consume verification token", slog.Any("error", err))
		return models.Internal(err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrVerificationTokenInvalid
		}
		return models.Internal(err)
	}
	if user.IsDeleted() {
		return ErrVerificationTokenInvalid
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrVerificationTokenInvalid
		}
		s.logger.Error("failed to mark email verified", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.Internal(err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventEmailVerified,
		UserID:    user.ID,
		Email:     user.Email,
		Success:   true,
	})
	return nil
}

// ResendVerification mails a fresh token when email belongs to an unverified
// account. It reports nothing about whether the account exists.
func (s *EmailVerificationService) ResendVerification(ctx context.Context, email string) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("resend verification lookup failed", slog.Any("error", err))
		}
		return
	}
	if user.EmailVerified || user.IsDeleted() {
		return
	}
	if err := s.SendVerificationEmail(ctx, user); err != nil {
		s.logger.Error("failed to resend verification email", slog.String("user_id", user.ID), slog.Any("error", err))
	}
}
