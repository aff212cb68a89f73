package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

const sessionColumns = `id, user_id, refresh_token_hash, expires_at, revoked, revoked_at, ip_address, user_agent, created_at, updated_at`

// SessionRepository persists refresh-token sessions. Tokens are stored as
// hashes; callers hash before calling.
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.UserID, &s.RefreshTokenHash, &s.ExpiresAt, &s.Revoked, &s.RevokedAt,
		&s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *SessionRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time, meta models.SessionMetadata) (*models.Session, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO sessions (id, user_id, refresh_token_hash, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + sessionColumns

	return scanSessionRow(r.db.Pool.QueryRow(ctx, query,
		uuid.NewString(), userID, tokenHash, expiresAt, nullable(meta.IPAddress), nullable(meta.UserAgent),
	))
}

// FindByTokenHash returns the session holding tokenHash, revoked or not.
func (r *SessionRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// Revoke marks one session revoked. An unknown or already revoked session
// yields models.ErrNotFound.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sessions SET revoked = TRUE, revoked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND NOT revoked
	`
	result, err := r.db.Pool.Exec(ctx, query, sessionID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes every live session of userID and returns how many were revoked.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sessions SET revoked = TRUE, revoked_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND NOT revoked
	`
	result, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// Rotate swaps the stored token hash only if the session still holds oldHash
// and is live. Any other state yields models.ErrNotFound, so of two racing
// rotations at most one can succeed.
func (r *SessionRepository) Rotate(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sessions
		SET refresh_token_hash = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $1 AND refresh_token_hash = $2 AND NOT revoked AND expires_at > NOW()
	`
	result, err := r.db.Pool.Exec(ctx, query, sessionID, oldHash, newHash, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired hard-deletes sessions that expired before cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
