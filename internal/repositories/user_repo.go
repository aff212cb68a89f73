package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, password_hash, first_name, last_name, status, email_verified, last_login_at, deleted_at, created_at, updated_at`

// UserRepository is the Postgres credential store.
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.Status, &user.EmailVerified, &user.LastLoginAt, &user.DeletedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByEmail looks the user up case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, strings.TrimSpace(email)))
}

// Create inserts user. A duplicate email yields models.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = models.UserStatusPendingVerification
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO users (id, email, password_hash, first_name, last_name, status, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING ` + userColumns

	return scanUserRow(r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Status, user.EmailVerified, now,
	))
}

// UpdateLastLogin stamps the login time and touches nothing else.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePasswordHash replaces the password of a live account and burns its
// outstanding password reset tokens in the same transaction. A deleted or
// unknown account yields models.ErrNotFound.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE users SET password_hash = $2, updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL`, id, hash)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			UPDATE action_tokens SET used_at = NOW()
			WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL`, id, models.ActionTokenPasswordReset)
		return database.MapPostgresError(err)
	})
}

// MarkEmailVerified sets the verified flag and promotes a pending account to
// active. Any other status is left as it is.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, `
		UPDATE users
		SET email_verified = TRUE,
		    status = CASE WHEN status = $2::text THEN $3::text ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, models.UserStatusPendingVerification, models.UserStatusActive)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
