package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string         `json:"error"`             // Machine-readable error code
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Optional structured context
}

// WriteJSON writes v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}
	// Encoding errors are not reported to the client; headers are already sent.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, nil)
}

// WriteErrorWithDetails writes a JSON error response with structured details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message string, details map[string]any) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

var kindStatus = map[models.ErrorKind]int{
	models.KindInvalidCredentials:        http.StatusUnauthorized,
	models.KindAccountLocked:             http.StatusForbidden,
	models.KindEmailNotVerified:          http.StatusForbidden,
	models.KindAccountSuspendedOrDeleted: http.StatusForbidden,
	models.KindTokenExpired:              http.StatusUnauthorized,
	models.KindTokenInvalid:              http.StatusUnauthorized,
	models.KindTokenRevoked:              http.StatusUnauthorized,
	models.KindTwoFactorRequired:         http.StatusForbidden,
	models.KindInvalidTwoFactorCode:      http.StatusUnauthorized,
	models.KindTwoFactorNotConfigured:    http.StatusBadRequest,
	models.KindResetTokenInvalid:         http.StatusBadRequest,
	models.KindValidation:                http.StatusBadRequest,
	models.KindForbidden:                 http.StatusForbidden,
	models.KindNotFound:                  http.StatusNotFound,
	models.KindConflict:                  http.StatusConflict,
	models.KindInternal:                  http.StatusInternalServerError,
}

// StatusForKind returns the HTTP status for an error kind.
func StatusForKind(kind models.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteAppError writes err using its kind. Errors that are not a
// *models.Error are treated as internal and their text is never exposed.
func WriteAppError(w http.ResponseWriter, err error) {
	WriteAppErrorWithStatus(w, err, 0)
}

// WriteAppErrorWithStatus is WriteAppError with a status override. A zero
// status keeps the default mapping.
func WriteAppErrorWithStatus(w http.ResponseWriter, err error, status int) {
	var appErr *models.Error
	if !errors.As(err, &appErr) || appErr.Kind == models.KindInternal {
		WriteInternalError(w, "internal server error")
		return
	}
	if status == 0 {
		status = StatusForKind(appErr.Kind)
	}
	WriteErrorWithDetails(w, status, string(appErr.Kind), appErr.Message, appErr.Details)
}
