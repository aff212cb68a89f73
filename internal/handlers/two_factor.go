package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// TwoFactorServiceInterface defines the interface for TOTP enrolment and checks
type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, userID, email string) (*models.TwoFactorSetup, error)
	Enable(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, code string) error
	Verify(ctx context.Context, userID, code string) error
}

// TwoFactorHandler handles 2FA enrolment and verification requests
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
	logger  *slog.Logger
}

func NewTwoFactorHandler(service TwoFactorServiceInterface, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{service: service, logger: logger}
}

// TwoFactorVerifyRequest carries a TOTP or backup code for a user.
type TwoFactorVerifyRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Token  string `json:"token" validate:"required,max=16"`
}

// TwoFactorCodeRequest carries a code for the authenticated user.
type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

type TwoFactorVerifyResponse struct {
	Verified bool `json:"verified"`
}

type TwoFactorStatusResponse struct {
	Enabled bool `json:"enabled"`
}

// Code failures on these routes are client errors, not authentication failures.
var twoFactorCodeOverrides = map[models.ErrorKind]int{
	models.KindInvalidTwoFactorCode:   http.StatusBadRequest,
	models.KindTwoFactorNotConfigured: http.StatusBadRequest,
}

// Verify checks a code without issuing tokens.
// @Summary Verify 2FA code
// @Accept json
// @Param request body TwoFactorVerifyRequest true "2FA verify request"
// @Produce json
// @Success 200 {object} TwoFactorVerifyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /api/v1/auth/2fa/verify [post]
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorVerifyRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.service.Verify(r.Context(), req.UserID, req.Token); err != nil {
		writeErrorWithOverrides(w, r, h.logger, err, twoFactorCodeOverrides)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorVerifyResponse{Verified: true})
}

// Setup starts enrolment. The secret and backup codes are shown only here.
// @Summary Start 2FA enrolment
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.TwoFactorSetup
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/auth/2fa/setup [post]
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	setup, err := h.service.Setup(r.Context(), claims.UserID, claims.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, setup)
}

// Enable confirms enrolment with a code from the authenticator.
// @Summary Enable 2FA
// @Security BearerAuth
// @Accept json
// @Param request body TwoFactorCodeRequest true "2FA code"
// @Produce json
// @Success 200 {object} TwoFactorStatusResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/2fa/enable [post]
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

// Disable removes 2FA after checking a current code.
// @Summary Disable 2FA
// @Security BearerAuth
// @Accept json
// @Param request body TwoFactorCodeRequest true "2FA code"
// @Produce json
// @Success 200 {object} TwoFactorStatusResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/2fa/disable [post]
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *TwoFactorHandler) toggle(w http.ResponseWriter, r *http.Request, enable bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	var req TwoFactorCodeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var err error
	if enable {
		err = h.service.Enable(r.Context(), claims.UserID, req.Code)
	} else {
		err = h.service.Disable(r.Context(), claims.UserID, req.Code)
	}
	if err != nil {
		writeErrorWithOverrides(w, r, h.logger, err, twoFactorCodeOverrides)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorStatusResponse{Enabled: enable})
}
