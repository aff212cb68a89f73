package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, req services.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req services.LoginRequest, meta models.SessionMetadata) (*services.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string, meta models.SessionMetadata) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string, meta models.SessionMetadata) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
	CurrentUser(ctx context.Context, userID string) (*services.UserResponse, error)
	ForgotPassword(ctx context.Context, email string)
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service    AuthServiceInterface
	ipResolver *pkghttp.IPResolver
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipResolver *pkghttp.IPResolver, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:    service,
		ipResolver: ipResolver,
		logger:     logger,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration.
// Password strength is checked by the service so that all violations are reported.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required"`
	TwoFactorCode string `json:"twoFactorCode,omitempty" validate:"omitempty,max=16"`
}

// RefreshTokenRequest is the body of refresh and logout.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// MessageResponse is returned by endpoints that never disclose outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) metadata(r *http.Request) models.SessionMetadata {
	return models.SessionMetadata{
		IPAddress: h.ipResolver.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} services.UserResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, services.NewUserResponse(user))
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.LoginResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
	}, h.metadata(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new token pair.
// @Summary Rotate refresh token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh request"
// @Produce json
// @Success 200 {object} models.TokenPair
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, h.metadata(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Logout revokes the session that owns the given refresh token.
// @Summary User logout
// @Accept json
// @Param request body RefreshTokenRequest true "Logout request"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken, h.metadata(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session of the authenticated user.
// @Summary Revoke all sessions
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	if _, err := h.service.LogoutAll(r.Context(), claims.UserID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user.
// @Summary Current user
// @Security BearerAuth
// @Produce json
// @Success 200 {object} services.UserResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// ForgotPassword always answers 200 so callers cannot learn which emails exist.
// @Summary Request password reset
// @Accept json
// @Param request body EmailRequest true "Forgot password request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /api/v1/auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.service.ForgotPassword(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Message: "If the email is registered, a password reset link has been sent.",
	})
}

// ResetPassword sets a new password using a single-use reset token.
// @Summary Reset password
// @Accept json
// @Param request body ResetPasswordRequest true "Reset password request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset."})
}

// VerifyEmail handles email verification
// @Summary Verify email address
// @Accept json
// @Param request body VerifyEmailRequest true "Verify email request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		writeErrorWithOverrides(w, r, h.logger, err, map[models.ErrorKind]int{
			models.KindTokenInvalid: http.StatusBadRequest,
			models.KindNotFound:     http.StatusBadRequest,
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email address verified."})
}

// ResendVerification handles resending verification email
// @Summary Resend verification email
// @Accept json
// @Param request body EmailRequest true "Resend verification request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /api/v1/auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.service.ResendVerification(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Message: "If the email is registered and unverified, a verification link has been sent.",
	})
}
