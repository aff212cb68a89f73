package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

// ActionTokenRepository stores single-use tokens for password reset and
// email verification.
type ActionTokenRepository interface {
	Create(ctx context.Context, userID, tokenHash, purpose string, expiresAt time.Time) (*models.ActionToken, error)
	GetValid(ctx context.Context, tokenHash, purpose string) (*models.ActionToken, error)
	Consume(ctx context.Context, tokenHash, purpose string) (string, error)
	Invalidate(ctx context.Context, tokenHash, purpose string) error
	InvalidateAllForUser(ctx context.Context, userID, purpose string) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// newOpaqueToken returns 32 random bytes as base64url, plus the hash to store.
func newOpaqueToken() (string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	return token, HashToken(token), nil
}

// PasswordResetService issues and redeems password reset tokens.
type PasswordResetService struct {
	repo   ActionTokenRepository
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(repo ActionTokenRepository, ttl time.Duration, logger *slog.Logger) *PasswordResetService {
	return &PasswordResetService{repo: repo, ttl: ttl, logger: logger, now: time.Now}
}

// TTL is how long a new token stays valid.
func (s *PasswordResetService) TTL() time.Duration {
	return s.ttl
}

// Generate invalidates the user's outstanding tokens and issues a new one.
func (s *PasswordResetService) Generate(ctx context.Context, userID string) (string, error) {
	if err := s.InvalidateAllForUser(ctx, userID); err != nil {
		return "", err
	}

	token, hash, err := newOpaqueToken()
	if err != nil {
		return "", models.Internal(err)
	}
	if _, err := s.repo.Create(ctx, userID, hash, models.ActionTokenPasswordReset, s.now().Add(s.ttl)); err != nil {
		s.logger.Error("failed to store reset token", slog.String("user_id", userID), slog.Any("error", err))
		return "", models.Internal(err)
	}
	return token, nil
}

// Verify checks token without consuming it.
func (s *PasswordResetService) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, models.ErrResetTokenInvalid
	}
	record, err := s.repo.GetValid(ctx, HashToken(token), models.ActionTokenPasswordReset)
	if err != nil {
		return uuid.Nil, s.mapError(err)
	}
	return parseUserID(record.UserID)
}

// Consume redeems token. Exactly one caller succeeds for a given token.
func (s *PasswordResetService) Consume(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, models.ErrResetTokenInvalid
	}
	userID, err := s.repo.Consume(ctx, HashToken(token), models.ActionTokenPasswordReset)
	if err != nil {
		return uuid.Nil, s.mapError(err)
	}
	return parseUserID(userID)
}

func (s *PasswordResetService) Invalidate(ctx context.Context, token string) error {
	if err := s.repo.Invalidate(ctx, HashToken(token), models.ActionTokenPasswordReset); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *PasswordResetService) InvalidateAllForUser(ctx context.Context, userID string) error {
	if _, err := s.repo.InvalidateAllForUser(ctx, userID, models.ActionTokenPasswordReset); err != nil {
		s.logger.Error("failed to invalidate reset tokens", slog.String("user_id", userID), slog.Any("error", err))
		return models.Internal(err)
	}
	return nil
}

func (s *PasswordResetService) mapError(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrResetTokenInvalid
	}
	s.logger.Error("reset token lookup failed", slog.Any("error", err))
	return models.Internal(err)
}

func parseUserID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, models.ErrResetTokenInvalid.Wrap(err)
	}
	return parsed, nil
}
