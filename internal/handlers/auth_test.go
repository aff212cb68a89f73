package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "8f14e45f-ceea-467f-a0e6-3b5a4c2d1e90"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthHandler(svc *handlers.MockAuthService) *handlers.AuthHandler {
	return handlers.NewAuthHandler(svc, pkghttp.NewIPResolver(nil), discardLogger())
}

func TestRegister_Created(t *testing.T) {
	var got services.RegisterRequest
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, req services.RegisterRequest) (*models.User, error) {
			got = req
			return &models.User{
				ID:        testUserID,
				Email:     req.Email,
				FirstName: req.FirstName,
				Status:    models.UserStatusPendingVerification,
			}, nil
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/register", handlers.RegisterRequest{
		Email:     "user@example.com",
		Password:  "Correct-Horse-9",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Register(w, req)

	var resp services.UserResponse
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, testUserID, resp.ID)
	assert.Equal(t, models.UserStatusPendingVerification, resp.Status)
	assert.False(t, resp.EmailVerified)
	assert.Equal(t, "Lovelace", got.LastName)
	assert.NotContains(t, w.Body.String(), "Correct-Horse-9")
}

func TestRegister_Conflict(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, req services.RegisterRequest) (*models.User, error) {
			return nil, models.ErrConflict
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/register", handlers.RegisterRequest{
		Email:     "taken@example.com",
		Password:  "Correct-Horse-9",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Register(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")
}

func TestRegister_WeakPasswordDetails(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, req services.RegisterRequest) (*models.User, error) {
			return nil, models.ErrValidation.WithDetails(map[string]any{
				"password": []string{"must be at least 8 characters"},
			})
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/register", handlers.RegisterRequest{
		Email:     "user@example.com",
		Password:  "short",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Register(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_error")
	assert.Contains(t, resp.Details, "password")
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "missing email", body: `{"password":"Correct-Horse-9"}`, field: "email"},
		{name: "invalid email", body: `{"email":"nope","password":"Correct-Horse-9"}`, field: "email"},
		{name: "missing password", body: `{"email":"user@example.com"}`, field: "password"},
		{name: "missing first name", body: `{"email":"user@example.com","password":"Correct-Horse-9","lastName":"Lovelace"}`, field: "firstName"},
		{name: "missing last name", body: `{"email":"user@example.com","password":"Correct-Horse-9","firstName":"Ada"}`, field: "lastName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mockAuth := &handlers.MockAuthService{
				RegisterFunc: func(ctx context.Context, req services.RegisterRequest) (*models.User, error) {
					called = true
					return nil, nil
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			newAuthHandler(mockAuth).Register(w, req)

			resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_error")
			assert.Contains(t, resp.Details, tt.field)
			assert.False(t, called, "service must not be called for invalid input")
		})
	}
}

func TestDecode_MalformedAndEmptyBodies(t *testing.T) {
	for _, body := range []string{"", "{not json", `["array"]`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		newAuthHandler(&handlers.MockAuthService{}).Login(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_error")
	}
}

func TestLogin_Success(t *testing.T) {
	var gotMeta models.SessionMetadata
	var gotReq services.LoginRequest
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest, meta models.SessionMetadata) (*services.LoginResponse, error) {
			gotReq, gotMeta = req, meta
			return &services.LoginResponse{
				AccessToken:  "access_token_123",
				RefreshToken: "refresh_token_123",
				User:         &services.UserResponse{ID: testUserID, Email: req.Email},
			}, nil
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login", handlers.LoginRequest{
		Email:         "user@example.com",
		Password:      "Correct-Horse-9",
		TwoFactorCode: "123456",
	})
	req.RemoteAddr = "203.0.113.7:4242"
	req.Header.Set("User-Agent", "warden-test/1.0")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Login(w, req)

	var resp services.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "refresh_token_123", resp.RefreshToken)
	require.NotNil(t, resp.User)
	assert.Equal(t, testUserID, resp.User.ID)

	assert.Equal(t, "123456", gotReq.TwoFactorCode)
	assert.Equal(t, "203.0.113.7", gotMeta.IPAddress)
	assert.Equal(t, "warden-test/1.0", gotMeta.UserAgent)
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid credentials", models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"bad two factor code", models.ErrInvalidTwoFactorCode, http.StatusUnauthorized, "invalid_two_factor_code"},
		{"locked", models.ErrAccountLocked, http.StatusForbidden, "account_locked"},
		{"unverified", models.ErrEmailNotVerified, http.StatusForbidden, "email_not_verified"},
		{"suspended", models.ErrAccountSuspendedOrDeleted, http.StatusForbidden, "account_unavailable"},
		{"two factor required", models.ErrTwoFactorRequired, http.StatusForbidden, "two_factor_required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, req services.LoginRequest, meta models.SessionMetadata) (*services.LoginResponse, error) {
					return nil, tt.err
				},
			}

			req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login", handlers.LoginRequest{
				Email:    "user@example.com",
				Password: "whatever-it-is",
			})
			w := httptest.NewRecorder()
			newAuthHandler(mockAuth).Login(w, req)

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}

func TestLogin_LockedCarriesEndTime(t *testing.T) {
	until := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest, meta models.SessionMetadata) (*services.LoginResponse, error) {
			return nil, models.ErrAccountLocked.WithDetails(map[string]any{"lockoutEndsAt": until})
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "Correct-Horse-9",
	})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Login(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusForbidden, "account_locked")
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.Details["lockoutEndsAt"])
}

func TestLogin_InternalErrorIsGeneric(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest, meta models.SessionMetadata) (*services.LoginResponse, error) {
			return nil, models.Internal(errors.New("dial tcp 10.0.0.5:6379: connection refused"))
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "Correct-Horse-9",
	})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"rotated", nil, http.StatusOK, ""},
		{"revoked", models.ErrTokenRevoked, http.StatusUnauthorized, "token_revoked"},
		{"expired", models.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
		{"invalid", models.ErrTokenInvalid, http.StatusUnauthorized, "token_invalid"},
		{"user unavailable", models.ErrForbidden, http.StatusForbidden, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				RefreshFunc: func(ctx context.Context, refreshToken string, meta models.SessionMetadata) (*models.TokenPair, error) {
					assert.Equal(t, "refresh_token_123", refreshToken)
					if tt.err != nil {
						return nil, tt.err
					}
					return &models.TokenPair{AccessToken: "new_access", RefreshToken: "new_refresh"}, nil
				},
			}

			req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/refresh", handlers.RefreshTokenRequest{
				RefreshToken: "refresh_token_123",
			})
			w := httptest.NewRecorder()
			newAuthHandler(mockAuth).Refresh(w, req)

			if tt.err != nil {
				handlers.AssertErrorResponse(t, w, tt.status, tt.code)
				return
			}
			var pair models.TokenPair
			handlers.AssertJSONResponse(t, w, http.StatusOK, &pair)
			assert.Equal(t, "new_access", pair.AccessToken)
			assert.Equal(t, "new_refresh", pair.RefreshToken)
		})
	}
}

func TestRefresh_MissingToken(t *testing.T) {
	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{})
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}).Refresh(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_error")
	assert.Contains(t, resp.Details, "refreshToken")
}

func TestLogout(t *testing.T) {
	t.Run("no content", func(t *testing.T) {
		mockAuth := &handlers.MockAuthService{
			LogoutFunc: func(ctx context.Context, refreshToken string, meta models.SessionMetadata) error {
				return nil
			},
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/logout", handlers.RefreshTokenRequest{RefreshToken: "rt"})
		w := httptest.NewRecorder()
		newAuthHandler(mockAuth).Logout(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("unknown session", func(t *testing.T) {
		mockAuth := &handlers.MockAuthService{
			LogoutFunc: func(ctx context.Context, refreshToken string, meta models.SessionMetadata) error {
				return models.NewError(models.KindNotFound, "session not found")
			},
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/logout", handlers.RefreshTokenRequest{RefreshToken: "rt"})
		w := httptest.NewRecorder()
		newAuthHandler(mockAuth).Logout(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
	})
}

func TestLogoutAll(t *testing.T) {
	var gotUser string
	mockAuth := &handlers.MockAuthService{
		LogoutAllFunc: func(ctx context.Context, userID string) (int64, error) {
			gotUser = userID
			return 3, nil
		},
	}

	req := handlers.WithAuthContext(
		handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/logout-all", nil),
		testUserID, "user@example.com")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).LogoutAll(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, testUserID, gotUser)
}

func TestLogoutAll_RequiresClaims(t *testing.T) {
	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/logout-all", nil)
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}).LogoutAll(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestMe(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		CurrentUserFunc: func(ctx context.Context, userID string) (*services.UserResponse, error) {
			return &services.UserResponse{ID: userID, Email: "user@example.com", Status: models.UserStatusActive}, nil
		},
	}

	req := handlers.WithAuthContext(
		handlers.NewTestRequest(t, http.MethodGet, "/api/v1/auth/me", nil),
		testUserID, "user@example.com")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Me(w, req)

	var resp services.UserResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, testUserID, resp.ID)
	assert.Equal(t, "user@example.com", resp.Email)
}

func TestForgotPassword_AlwaysOK(t *testing.T) {
	var got string
	mockAuth := &handlers.MockAuthService{
		ForgotPasswordFunc: func(ctx context.Context, email string) { got = email },
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/forgot-password", handlers.EmailRequest{
		Email: "nobody@example.com",
	})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).ForgotPassword(w, req)

	var resp handlers.MessageResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "nobody@example.com", got)
}

func TestResetPassword(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mockAuth := &handlers.MockAuthService{
			ResetPasswordFunc: func(ctx context.Context, token, newPassword string) error {
				assert.Equal(t, "reset-token", token)
				assert.Equal(t, "New-Password-42", newPassword)
				return nil
			},
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/reset-password", handlers.ResetPasswordRequest{
			Token:       "reset-token",
			NewPassword: "New-Password-42",
		})
		w := httptest.NewRecorder()
		newAuthHandler(mockAuth).ResetPassword(w, req)

		handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	})

	t.Run("used token", func(t *testing.T) {
		mockAuth := &handlers.MockAuthService{
			ResetPasswordFunc: func(ctx context.Context, token, newPassword string) error {
				return models.ErrResetTokenInvalid
			},
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/reset-password", handlers.ResetPasswordRequest{
			Token:       "reset-token",
			NewPassword: "New-Password-42",
		})
		w := httptest.NewRecorder()
		newAuthHandler(mockAuth).ResetPassword(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "reset_token_invalid")
	})
}

func TestVerifyEmail(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		mockAuth := &handlers.MockAuthService{
			VerifyEmailFunc: func(ctx context.Context, token string) error { return nil },
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/verify-email", handlers.VerifyEmailRequest{Token: "tok"})
		w := httptest.NewRecorder()
		newAuthHandler(mockAuth).VerifyEmail(w, req)

		handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	})

	t.Run("invalid token is a bad request", func(t *testing.T) {
		mockAuth := &handlers.MockAuthService{
			VerifyEmailFunc: func(ctx context.Context, token string) error { return services.ErrVerificationTokenInvalid },
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/verify-email", handlers.VerifyEmailRequest{Token: "tok"})
		w := httptest.NewRecorder()
		newAuthHandler(mockAuth).VerifyEmail(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "token_invalid")
	})
}

func TestResendVerification_AlwaysOK(t *testing.T) {
	calls := 0
	mockAuth := &handlers.MockAuthService{
		ResendVerificationFunc: func(ctx context.Context, email string) { calls++ },
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/v1/auth/resend-verification", handlers.EmailRequest{
		Email: "user@example.com",
	})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).ResendVerification(w, req)

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Equal(t, 1, calls)
}
