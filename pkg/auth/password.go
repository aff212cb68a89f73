package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 72 // bcrypt ignores input past 72 bytes
)

// ErrEmptyPassword is returned when hashing an empty string.
var ErrEmptyPassword = errors.New("password cannot be empty")

// PasswordPolicyError lists the password requirements that were not met.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password does not meet requirements"
}

var commonPasswords = map[string]bool{
	"password":     true,
	"password1":    true,
	"password123":  true,
	"password123!": true,
	"12345678":     true,
	"qwerty":       true,
	"qwerty123":    true,
	"abc123":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"welcome1!":    true,
	"monkey":       true,
	"dragon":       true,
	"passw0rd":     true,
	"p@ssw0rd":     true,
	"sunshine":     true,
	"football":     true,
	"trustno1":     true,
	"iloveyou":     true,
}

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher creates a Hasher. A cost outside bcrypt's range falls back to
// DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	// Compared against when the user does not exist so that unknown emails
	// cost the same as wrong passwords.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("warden-dummy-password"), cost)
	return &Hasher{cost: cost, dummy: dummy}
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare reports whether password matches hash. A malformed hash yields false.
func (h *Hasher) Compare(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CompareDummy burns one comparison worth of CPU and always returns false.
func (h *Hasher) CompareDummy(password string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
	return false
}

// ValidatePassword enforces strong password requirements
func ValidatePassword(password string) error {
	violations := make([]string, 0)

	if len(password) < MinPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if !hasSpecial {
		violations = append(violations, "must contain a special character")
	}
	if commonPasswords[strings.ToLower(password)] {
		violations = append(violations, "is too common")
	}

	if len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}
	return nil
}
