package repositories

import (
	"context"
	"errors"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/lib/pq"
)

// TwoFactorRepository persists TOTP credentials and backup code hashes.
type TwoFactorRepository struct {
	db *database.DB
}

func NewTwoFactorRepository(db *database.DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

// Upsert stores a new, disabled credential for the user, replacing any
// pending one. An already enabled credential is left untouched and
// models.ErrConflict is returned.
func (r *TwoFactorRepository) Upsert(ctx context.Context, cred *models.TwoFactorCredential) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO two_factor_credentials (user_id, secret_encrypted, secret_nonce, enabled, backup_code_hashes)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET secret_encrypted = EXCLUDED.secret_encrypted,
		    secret_nonce = EXCLUDED.secret_nonce,
		    backup_code_hashes = EXCLUDED.backup_code_hashes,
		    enabled = FALSE, enabled_at = NULL, updated_at = NOW()
		WHERE NOT two_factor_credentials.enabled
		RETURNING created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		cred.UserID, cred.SecretEncrypted, cred.SecretNonce, pq.Array(cred.BackupCodeHashes),
	).Scan(&cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		// No row returned means the WHERE guard kept an enabled credential.
		err = database.MapPostgresError(err)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrConflict
		}
		return err
	}
	return nil
}

func (r *TwoFactorRepository) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorCredential, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id, secret_encrypted, secret_nonce, enabled, backup_code_hashes,
		       enabled_at, last_used_at, created_at, updated_at
		FROM two_factor_credentials WHERE user_id = $1
	`
	var cred models.TwoFactorCredential
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&cred.UserID, &cred.SecretEncrypted, &cred.SecretNonce, &cred.Enabled,
		pq.Array(&cred.BackupCodeHashes), &cred.EnabledAt, &cred.LastUsedAt,
		&cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &cred, nil
}

// Enable turns on a pending credential. It yields models.ErrNotFound when
// there is nothing pending.
func (r *TwoFactorRepository) Enable(ctx context.Context, userID string) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		UPDATE two_factor_credentials
		SET enabled = TRUE, enabled_at = NOW(), last_used_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND NOT enabled
	`
	result, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ConsumeBackupCode removes codeHash from the user's enabled credential in a
// single statement. It reports true only for the caller whose update removed
// the code.
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `
		UPDATE two_factor_credentials
		SET backup_code_hashes = array_remove(backup_code_hashes, $2),
		    last_used_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND enabled AND $2 = ANY(backup_code_hashes)
	`
	result, err := r.db.Pool.Exec(ctx, query, userID, codeHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

// TouchLastUsed records a successful TOTP verification.
func (r *TwoFactorRepository) TouchLastUsed(ctx context.Context, userID string) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx,
		`UPDATE two_factor_credentials SET last_used_at = NOW() WHERE user_id = $1`, userID)
	return database.MapPostgresError(err)
}

func (r *TwoFactorRepository) Delete(ctx context.Context, userID string) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, `DELETE FROM two_factor_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
