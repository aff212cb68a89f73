package services

import (
	"context"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// UserRepository is the credential store the auth core reads and updates.
// Every write touches only the columns it names so that concurrent changes
// to the same account are never overwritten from a stale read.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	// UpdatePasswordHash also burns the account's outstanding reset tokens.
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkEmailVerified(ctx context.Context, id string) error
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// NewUserResponse strips a user down to what clients may see.
func NewUserResponse(u *models.User) *UserResponse {
	return &UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
