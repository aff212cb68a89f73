package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error into a stable, caller-facing category.
type ErrorKind string

const (
	KindInvalidCredentials        ErrorKind = "invalid_credentials"
	KindAccountLocked             ErrorKind = "account_locked"
	KindEmailNotVerified          ErrorKind = "email_not_verified"
	KindAccountSuspendedOrDeleted ErrorKind = "account_unavailable"
	KindTokenExpired              ErrorKind = "token_expired"
	KindTokenInvalid              ErrorKind = "token_invalid"
	KindTokenRevoked              ErrorKind = "token_revoked"
	KindTwoFactorRequired         ErrorKind = "two_factor_required"
	KindInvalidTwoFactorCode      ErrorKind = "invalid_two_factor_code"
	KindTwoFactorNotConfigured    ErrorKind = "two_factor_not_configured"
	KindResetTokenInvalid         ErrorKind = "reset_token_invalid"
	KindValidation                ErrorKind = "validation_error"
	KindForbidden                 ErrorKind = "forbidden"
	KindNotFound                  ErrorKind = "not_found"
	KindConflict                  ErrorKind = "conflict"
	KindInternal                  ErrorKind = "internal_error"
)

// Error is the single error type returned by the auth core. Two errors are
// equal under errors.Is when their kinds match, so the sentinels below can be
// compared against errors carrying extra details.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetails returns a copy of e carrying the given details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap returns a copy of e that wraps cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Internal wraps an unexpected failure. The cause is kept for logging and
// never shown to callers.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: cause}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Sentinel errors for common failure conditions
var (
	ErrInvalidCredentials        = NewError(KindInvalidCredentials, "invalid email or password")
	ErrAccountLocked             = NewError(KindAccountLocked, "account is temporarily locked")
	ErrEmailNotVerified          = NewError(KindEmailNotVerified, "email address not verified")
	ErrAccountSuspendedOrDeleted = NewError(KindAccountSuspendedOrDeleted, "account is not available")
	ErrTokenExpired              = NewError(KindTokenExpired, "token has expired")
	ErrTokenInvalid              = NewError(KindTokenInvalid, "token is invalid")
	ErrTokenRevoked              = NewError(KindTokenRevoked, "token has been revoked")
	ErrTwoFactorRequired         = NewError(KindTwoFactorRequired, "two-factor authentication code required")
	ErrInvalidTwoFactorCode      = NewError(KindInvalidTwoFactorCode, "invalid two-factor authentication code")
	ErrTwoFactorNotConfigured    = NewError(KindTwoFactorNotConfigured, "two-factor authentication is not configured")
	ErrResetTokenInvalid         = NewError(KindResetTokenInvalid, "reset token is invalid or expired")
	ErrValidation                = NewError(KindValidation, "validation failed")
	ErrForbidden                 = NewError(KindForbidden, "forbidden")
	ErrNotFound                  = NewError(KindNotFound, "resource not found")
	ErrConflict                  = NewError(KindConflict, "resource already exists")
)
