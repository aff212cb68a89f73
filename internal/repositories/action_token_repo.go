package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

const actionTokenColumns = `id, user_id, token_hash, purpose, expires_at, used_at, created_at`

// ActionTokenRepository stores single-use tokens (password reset, email
// verification) by hash.
type ActionTokenRepository struct {
	db *database.DB
}

func NewActionTokenRepository(db *database.DB) *ActionTokenRepository {
	return &ActionTokenRepository{db: db}
}

func scanActionTokenRow(row rowScanner) (*models.ActionToken, error) {
	var token models.ActionToken
	err := row.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.Purpose,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &token, nil
}

func (r *ActionTokenRepository) Create(ctx context.Context, userID, tokenHash, purpose string, expiresAt time.Time) (*models.ActionToken, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO action_tokens (id, user_id, token_hash, purpose, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + actionTokenColumns

	return scanActionTokenRow(r.db.Pool.QueryRow(ctx, query, uuid.NewString(), userID, tokenHash, purpose, expiresAt))
}

// GetValid returns the unused, unexpired token with the given hash and purpose.
func (r *ActionTokenRepository) GetValid(ctx context.Context, tokenHash, purpose string) (*models.ActionToken, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + actionTokenColumns + `
		FROM action_tokens
		WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > NOW()
	`
	return scanActionTokenRow(r.db.Pool.QueryRow(ctx, query, tokenHash, purpose))
}

// Consume marks the token used and returns its owner in one statement. Only
// one caller can consume a given token; the rest get models.ErrNotFound.
func (r *ActionTokenRepository) Consume(ctx context.Context, tokenHash, purpose string) (string, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		UPDATE action_tokens
		SET used_at = NOW()
		WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`
	var userID string
	if err := r.db.Pool.QueryRow(ctx, query, tokenHash, purpose).Scan(&userID); err != nil {
		return "", database.MapPostgresError(err)
	}
	return userID, nil
}

// Invalidate burns a single token without reporting whether it existed.
func (r *ActionTokenRepository) Invalidate(ctx context.Context, tokenHash, purpose string) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx,
		`UPDATE action_tokens SET used_at = NOW() WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL`,
		tokenHash, purpose)
	return database.MapPostgresError(err)
}

// InvalidateAllForUser burns every outstanding token of purpose for userID.
func (r *ActionTokenRepository) InvalidateAllForUser(ctx context.Context, userID, purpose string) (int64, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx,
		`UPDATE action_tokens SET used_at = NOW() WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL`,
		userID, purpose)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes tokens that expired before cutoff.
func (r *ActionTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, `DELETE FROM action_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
