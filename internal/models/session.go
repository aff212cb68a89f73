package models

import "time"

// Session pairs a user with one live refresh token. Only the SHA-256 hash of
// the token is persisted.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	ExpiresAt        time.Time
	Revoked          bool
	RevokedAt        *time.Time
	IPAddress        *string
	UserAgent        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsExpired checks if the session has passed its expiry
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsValid reports whether the refresh token of this session may still be exchanged.
func (s *Session) IsValid(now time.Time) bool {
	return !s.Revoked && !s.IsExpired(now)
}

// SessionMetadata is the optional client information recorded at login.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}
