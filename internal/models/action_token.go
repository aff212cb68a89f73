package models

import (
	"time"
)

// Action token purposes
const (
	ActionTokenPasswordReset     = "password_reset"
	ActionTokenEmailVerification = "email_verification"
)

// ActionToken is a single-use, time-boxed token delivered out of band.
type ActionToken struct {
	ID        string
	UserID    string
	TokenHash string
	Purpose   string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsExpired checks if the token has expired
func (t *ActionToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsed checks if the token has already been used
func (t *ActionToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsValid checks if the token is still valid (not expired and not used)
func (t *ActionToken) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.IsUsed()
}
