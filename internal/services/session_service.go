package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// SessionRepository stores sessions keyed by the hash of their refresh token.
type SessionRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time, meta models.SessionMetadata) (*models.Session, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	Rotate(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// HashToken returns the hex SHA-256 of an opaque or JWT token. Only hashes
// reach storage.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SessionService is the session registry. It accepts raw refresh tokens and
// hashes them before they reach the repository.
type SessionService struct {
	repo      SessionRepository
	retention time.Duration
	now       func() time.Time
}

// NewSessionService creates a new SessionService. Expired sessions are kept
// for retention before DeleteExpired removes them.
func NewSessionService(repo SessionRepository, retention time.Duration) *SessionService {
	return &SessionService{repo: repo, retention: retention, now: time.Now}
}

func (s *SessionService) Create(ctx context.Context, userID, refreshToken string, expiresAt time.Time, meta models.SessionMetadata) (*models.Session, error) {
	return s.repo.Create(ctx, userID, HashToken(refreshToken), expiresAt, meta)
}

// FindByRefreshToken returns models.ErrNotFound when no session holds token.
func (s *SessionService) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	return s.repo.FindByTokenHash(ctx, HashToken(refreshToken))
}

func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	return s.repo.Revoke(ctx, sessionID)
}

func (s *SessionService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, userID)
}

// Rotate swaps the session's refresh token only if it still holds oldToken
// and is live. Otherwise it returns models.ErrNotFound and changes nothing.
func (s *SessionService) Rotate(ctx context.Context, sessionID, oldToken, newToken string, newExpiresAt time.Time) error {
	return s.repo.Rotate(ctx, sessionID, HashToken(oldToken), HashToken(newToken), newExpiresAt)
}

// DeleteExpired removes sessions that expired more than the retention period ago.
func (s *SessionService) DeleteExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now().Add(-s.retention))
}
