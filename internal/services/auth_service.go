package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// AuthDependencies collects what AuthService is built from.
type AuthDependencies struct {
	Users        UserRepository
	Hasher       *pkgauth.Hasher
	Tokens       TokenIssuer
	Sessions     *SessionService
	Refresher    *RefreshCoordinator
	Blacklist    TokenBlacklist
	Lockout      *LockoutGuard
	TwoFactor    *TwoFactorService
	Resets       *PasswordResetService
	Verification *EmailVerificationService
	Mailer       EmailService
	Timing       *auth.TimingDelay
	Logger       *slog.Logger
	AuditLogger  *pkglogger.AuditLogger
}

// AuthService handles authentication business logic
type AuthService struct {
	users        UserRepository
	hasher       *pkgauth.Hasher
	tokens       TokenIssuer
	sessions     *SessionService
	refresher    *RefreshCoordinator
	blacklist    TokenBlacklist
	lockout      *LockoutGuard
	twoFactor    *TwoFactorService
	resets       *PasswordResetService
	verification *EmailVerificationService
	mailer       EmailService
	timing       *auth.TimingDelay
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	now          func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthDependencies) *AuthService {
	return &AuthService{
		users:        deps.Users,
		hasher:       deps.Hasher,
		tokens:       deps.Tokens,
		sessions:     deps.Sessions,
		refresher:    deps.Refresher,
		blacklist:    deps.Blacklist,
		lockout:      deps.Lockout,
		twoFactor:    deps.TwoFactor,
		resets:       deps.Resets,
		verification: deps.Verification,
		mailer:       deps.Mailer,
		timing:       deps.Timing,
		logger:       deps.Logger,
		auditLogger:  deps.AuditLogger,
		now:          time.Now,
	}
}

type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
}

// LoginResponse represents the response from a successful login
type LoginResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	User         *UserResponse `json:"user"`
}

// passwordPolicyError turns a policy failure into a validation error the
// client can act on.
func passwordPolicyError(err error) error {
	var policyErr *pkgauth.PasswordPolicyError
	if errors.As(err, &policyErr) {
		return models.ErrValidation.WithDetails(map[string]any{"password": policyErr.Violations})
	}
	return models.ErrValidation.Wrap(err)
}

// Register creates a pending account and mails a verification link. The
// account cannot log in until the email is verified.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		return nil, passwordPolicyError(err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, models.Internal(err)
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Status:       models.UserStatusPendingVerification,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.NewError(models.KindConflict, "an account with this email already exists")
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.Internal(err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventRegister, UserID: user.ID, Email: user.Email, Success: true})

	// The account exists either way; the user can ask for another link.
	if err := s.verification.SendVerificationEmail(ctx, user); err != nil {
		s.logger.Error("failed to send verification email", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return user, nil
}

// Login authenticates a user and opens a session.
//
// Unknown email, wrong password and wrong second factor all count toward
// lockout. The attempt that reaches the threshold still reports the
// credential failure; later attempts report the lock. Account state is only
// revealed to callers who know the password.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, meta models.SessionMetadata) (*LoginResponse, error) {
	start := time.Now()
	email := normalizeEmail(req.Email)
	identity := s.lockout.Identity(email, meta.IPAddress)

	status, err := s.lockout.IsLocked(ctx, identity)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginFailed,
			Email:         email,
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
			FailureReason: "account_locked",
		})
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrAccountLocked.WithDetails(map[string]any{"lockoutEndsAt": status.LockoutEndsAt})
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.Internal(err)
	}

	if user == nil {
		s.hasher.CompareDummy(req.Password)
		return nil, s.loginFailed(ctx, start, identity, email, "", meta, "invalid_credentials", models.ErrInvalidCredentials)
	}
	if !s.hasher.Compare(req.Password, user.PasswordHash) {
		return nil, s.loginFailed(ctx, start, identity, email, user.ID, meta, "invalid_credentials", models.ErrInvalidCredentials)
	}

	if err := user.LoginError(); err != nil {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginFailed,
			UserID:        user.ID,
			Email:         email,
			IPAddress:     meta.IPAddress,
			FailureReason: string(models.KindOf(err)),
		})
		return nil, err
	}

	enabled, err := s.twoFactor.IsEnabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if enabled {
		if req.TwoFactorCode == "" {
			return nil, models.ErrTwoFactorRequired
		}
		if err := s.twoFactor.Verify(ctx, user.ID, req.TwoFactorCode); err != nil {
			if errors.Is(err, models.ErrInvalidTwoFactorCode) {
				return nil, s.loginFailed(ctx, start, identity, email, user.ID, meta, "invalid_two_factor_code", models.ErrInvalidTwoFactorCode)
			}
			return nil, err
		}
	}

	if err := s.lockout.ClearFailedAttempts(ctx, identity); err != nil {
		return nil, err
	}

	pair, err := s.openSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to record last login", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginSuccess,
		UserID:    user.ID,
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
	})

	return &LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         NewUserResponse(user),
	}, nil
}

// loginFailed counts a failed attempt and returns result unless the store
// could not be updated.
func (s *AuthService) loginFailed(ctx context.Context, start time.Time, identity, email, userID string, meta models.SessionMetadata, reason string, result error) error {
	status, err := s.lockout.RecordFailedAttempt(ctx, identity)
	if err != nil {
		return err
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventLoginFailed,
		UserID:        userID,
		Email:         email,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		FailureReason: reason,
	})
	if status.Locked {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventAccountLocked,
			UserID:    userID,
			Email:     email,
			IPAddress: meta.IPAddress,
		})
	}

	s.timing.WaitFrom(ctx, start, false)
	return result
}

func (s *AuthService) openSession(ctx context.Context, user *models.User, meta models.SessionMetadata) (*models.TokenPair, error) {
	refresh, refreshExpiresAt, err := s.tokens.IssueRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.Internal(err)
	}
	if _, err := s.sessions.Create(ctx, user.ID, refresh, refreshExpiresAt, meta); err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.Internal(err)
	}

	access, _, err := s.tokens.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.Internal(err)
	}
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh rotates a refresh token. See RefreshCoordinator.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta models.SessionMetadata) (*models.TokenPair, error) {
	return s.refresher.Refresh(ctx, refreshToken, meta)
}

// Logout revokes the session holding refreshToken and blacklists the token.
// An unknown or already revoked session yields models.ErrNotFound.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta models.SessionMetadata) error {
	session, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewError(models.KindNotFound, "session not found")
		}
		return models.Internal(err)
	}

	if err := s.sessions.Revoke(ctx, session.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewError(models.KindNotFound, "session not found")
		}
		return models.Internal(err)
	}

	if ttl := session.ExpiresAt.Sub(s.now()); ttl > 0 {
		if _, err := s.blacklist.Add(ctx, HashToken(refreshToken), session.UserID, ttl); err != nil {
			s.logger.Warn("failed to blacklist logged out token", slog.String("session_id", session.ID), slog.Any("error", err))
		}
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventSessionRevoked,
		UserID:    session.UserID,
		SessionID: session.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every live session of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	count, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke sessions", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.Internal(err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventSessionsRevoked,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"count": strconv.FormatInt(count, 10)},
	})
	return count, nil
}

// CurrentUser returns the caller's profile. A user that can no longer log in
// is reported as not found.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.Internal(err)
	}
	if user.IsDeleted() {
		return nil, models.ErrNotFound
	}
	return NewUserResponse(user), nil
}

// ForgotPassword mails a reset link when email belongs to a live account.
// It never reports whether the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) {
	start := time.Now()
	defer s.timing.WaitFrom(ctx, start, true)

	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("forgot password lookup failed", slog.Any("error", err))
		}
		return
	}
	if user.IsDeleted() {
		return
	}

	token, err := s.resets.Generate(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, token, s.now().Add(s.resets.TTL())); err != nil {
		s.logger.Error("failed to send reset email", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventResetRequested, UserID: user.ID, Email: email, Success: true})
}

// ResetPassword redeems token, sets the new password and signs the user out
// everywhere.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return passwordPolicyError(err)
	}

	userID, err := s.resets.Consume(ctx, token)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID.String())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrResetTokenInvalid
		}
		return models.Internal(err)
	}
	if user.IsDeleted() {
		return models.ErrResetTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return models.Internal(err)
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrResetTokenInvalid
		}
		s.logger.Error("failed to update password", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.Internal(err)
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Error("failed to revoke sessions after reset", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.Internal(err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventPasswordReset, UserID: user.ID, Email: user.Email, Success: true})
	return nil
}

// VerifyEmail activates the account owning token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	return s.verification.VerifyEmail(ctx, token)
}

// ResendVerification mails a new verification link when appropriate.
func (s *AuthService) ResendVerification(ctx context.Context, email string) {
	s.verification.ResendVerification(ctx, email)
}
