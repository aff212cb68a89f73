package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		Type:   models.TokenTypeAccess,
		UserID: userID,
		Email:  email,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks the status and stable error code of a response
// and returns the decoded body.
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc           func(ctx context.Context, req services.RegisterRequest) (*models.User, error)
	LoginFunc              func(ctx context.Context, req services.LoginRequest, meta models.SessionMetadata) (*services.LoginResponse, error)
	RefreshFunc            func(ctx context.Context, refreshToken string, meta models.SessionMetadata) (*models.TokenPair, error)
	LogoutFunc             func(ctx context.Context, refreshToken string, meta models.SessionMetadata) error
	LogoutAllFunc          func(ctx context.Context, userID string) (int64, error)
	CurrentUserFunc        func(ctx context.Context, userID string) (*services.UserResponse, error)
	ForgotPasswordFunc     func(ctx context.Context, email string)
	ResetPasswordFunc      func(ctx context.Context, token, newPassword string) error
	VerifyEmailFunc        func(ctx context.Context, token string) error
	ResendVerificationFunc func(ctx context.Context, email string)
}

func (m *MockAuthService) Register(ctx context.Context, req services.RegisterRequest) (*models.User, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, req)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest, meta models.SessionMetadata) (*services.LoginResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, req, meta)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, meta models.SessionMetadata) (*models.TokenPair, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrTokenInvalid
	}
	return m.RefreshFunc(ctx, refreshToken, meta)
}

func (m *MockAuthService) Logout(ctx context.Context, refreshToken string, meta models.SessionMetadata) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, refreshToken, meta)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, userID)
}

func (m *MockAuthService) CurrentUser(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.CurrentUserFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.CurrentUserFunc(ctx, userID)
}

func (m *MockAuthService) ForgotPassword(ctx context.Context, email string) {
	if m.ForgotPasswordFunc != nil {
		m.ForgotPasswordFunc(ctx, email)
	}
}

func (m *MockAuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrResetTokenInvalid
	}
	return m.ResetPasswordFunc(ctx, token, newPassword)
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, token string) error {
	if m.VerifyEmailFunc == nil {
		return models.ErrTokenInvalid
	}
	return m.VerifyEmailFunc(ctx, token)
}

func (m *MockAuthService) ResendVerification(ctx context.Context, email string) {
	if m.ResendVerificationFunc != nil {
		m.ResendVerificationFunc(ctx, email)
	}
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	SetupFunc   func(ctx context.Context, userID, email string) (*models.TwoFactorSetup, error)
	EnableFunc  func(ctx context.Context, userID, code string) error
	DisableFunc func(ctx context.Context, userID, code string) error
	VerifyFunc  func(ctx context.Context, userID, code string) error
}

func (m *MockTwoFactorService) Setup(ctx context.Context, userID, email string) (*models.TwoFactorSetup, error) {
	if m.SetupFunc == nil {
		return nil, models.ErrConflict
	}
	return m.SetupFunc(ctx, userID, email)
}

func (m *MockTwoFactorService) Enable(ctx context.Context, userID, code string) error {
	if m.EnableFunc == nil {
		return models.ErrInvalidTwoFactorCode
	}
	return m.EnableFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if m.DisableFunc == nil {
		return models.ErrInvalidTwoFactorCode
	}
	return m.DisableFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) Verify(ctx context.Context, userID, code string) error {
	if m.VerifyFunc == nil {
		return models.ErrInvalidTwoFactorCode
	}
	return m.VerifyFunc(ctx, userID, code)
}
