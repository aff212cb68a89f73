package models

import (
	"time"
)

// User status values
const (
	UserStatusPendingVerification = "pending_verification"
	UserStatusActive              = "active"
	UserStatusSuspended           = "suspended"
	UserStatusInactive            = "inactive"
)

type User struct {
	ID            string
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	Status        string
	EmailVerified bool
	LastLoginAt   *time.Time
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsDeleted reports whether the user has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// CanLogin holds only for a live, active user with a verified email.
func (u *User) CanLogin() bool {
	return !u.IsDeleted() && u.Status == UserStatusActive && u.EmailVerified
}

// LoginError explains why CanLogin is false, or returns nil when it holds.
func (u *User) LoginError() error {
	switch {
	case u.IsDeleted(), u.Status == UserStatusSuspended, u.Status == UserStatusInactive:
		return ErrAccountSuspendedOrDeleted
	case !u.EmailVerified, u.Status == UserStatusPendingVerification:
		return ErrEmailNotVerified
	case u.Status != UserStatusActive:
		return ErrAccountSuspendedOrDeleted
	}
	return nil
}
