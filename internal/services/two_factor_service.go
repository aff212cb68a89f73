package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// TwoFactorRepository persists TOTP credentials. ConsumeBackupCode must
// remove the code in one conditional write and report true only to the
// caller whose write removed it.
type TwoFactorRepository interface {
	Upsert(ctx context.Context, cred *models.TwoFactorCredential) error
	GetByUserID(ctx context.Context, userID string) (*models.TwoFactorCredential, error)
	Enable(ctx context.Context, userID string) error
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	TouchLastUsed(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID string) error
}

// OTPReplayGuard accepts each TOTP code once per user.
type OTPReplayGuard interface {
	MarkUsed(ctx context.Context, userID, code string) (bool, error)
}

// TwoFactorService handles TOTP enrolment and verification
type TwoFactorService struct {
	repo        TwoFactorRepository
	totp        *auth.TOTPManager
	replay      OTPReplayGuard
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(
	repo TwoFactorRepository,
	totp *auth.TOTPManager,
	replay OTPReplayGuard,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *TwoFactorService {
	return &TwoFactorService{
		repo:        repo,
		totp:        totp,
		replay:      replay,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Setup generates a secret and backup codes and stores them disabled. The
// plaintext codes are returned once and never stored.
func (s *TwoFactorService) Setup(ctx context.Context, userID, email string) (*models.TwoFactorSetup, error) {
	secret, err := s.totp.GenerateSecret(email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.Internal(err)
	}

	codes, err := s.totp.GenerateBackupCodes(auth.DefaultBackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.Internal(err)
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = s.totp.HashBackupCode(code)
	}

	encrypted, nonce, err := s.totp.EncryptSecret(secret.Secret)
	if err != nil {
		s.logger.Error("failed to encrypt TOTP secret", slog.Any("error", err))
		return nil, models.Internal(err)
	}

	err = s.repo.Upsert(ctx, &models.TwoFactorCredential{
		UserID:           userID,
		SecretEncrypted:  encrypted,
		SecretNonce:      nonce,
		BackupCodeHashes: hashes,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.NewError(models.KindConflict, "two-factor authentication is already enabled")
		}
		s.logger.Error("failed to store TOTP credential", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.Internal(err)
	}

	return &models.TwoFactorSetup{
		Secret:      secret.Secret,
		OTPAuthURL:  secret.OTPAuthURL,
		QRCode:      secret.QRCode,
		BackupCodes: codes,
	}, nil
}

// Enable activates a pending credential once the user proves they can
// produce a current code.
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	cred, err := s.credential(ctx, userID)
	if err != nil {
		return err
	}
	if cred.Enabled {
		return models.NewError(models.KindConflict, "two-factor authentication is already enabled")
	}

	if err := s.checkTOTP(ctx, cred, code); err != nil {
		return err
	}

	if err := s.repo.Enable(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTwoFactorNotConfigured
		}
		return models.Internal(err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventTwoFactorEnabled, UserID: userID, Success: true})
	return nil
}

// Disable removes the credential after a successful verification.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if err := s.Verify(ctx, userID, code); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return models.Internal(err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventTwoFactorDisabled, UserID: userID, Success: true})
	return nil
}

// IsEnabled reports whether the user must present a second factor.
func (s *TwoFactorService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to load TOTP credential", slog.String("user_id", userID), slog.Any("error", err))
		return false, models.Internal(err)
	}
	return cred.Enabled, nil
}

// Verify accepts a current TOTP code or an unused backup code. A backup
// code is spent by the call that accepts it.
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) error {
	cred, err := s.credential(ctx, userID)
	if err != nil {
		return err
	}
	if !cred.Enabled {
		return models.ErrTwoFactorNotConfigured
	}

	code = strings.TrimSpace(code)
	if auth.IsBackupCodeFormat(code) {
		return s.consumeBackupCode(ctx, userID, code)
	}

	if err := s.checkTOTP(ctx, cred, code); err != nil {
		return err
	}
	if err := s.repo.TouchLastUsed(ctx, userID); err != nil {
		s.logger.Warn("failed to record TOTP use", slog.String("user_id", userID), slog.Any("error", err))
	}
	return nil
}

func (s *TwoFactorService) credential(ctx context.Context, userID string) (*models.TwoFactorCredential, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTwoFactorNotConfigured
		}
		s.logger.Error("failed to load TOTP credential", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.Internal(err)
	}
	return cred, nil
}

func (s *TwoFactorService) checkTOTP(ctx context.Context, cred *models.TwoFactorCredential, code string) error {
	secret, err := s.totp.DecryptSecret(cred.SecretEncrypted, cred.SecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.String("user_id", cred.UserID), slog.Any("error", err))
		return models.Internal(err)
	}

	if !s.totp.Verify(secret, code) {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventTwoFactorFailed,
			UserID:        cred.UserID,
			FailureReason: "invalid_code",
		})
		return models.ErrInvalidTwoFactorCode
	}

	first, err := s.replay.MarkUsed(ctx, cred.UserID, code)
	if err != nil {
		s.logger.Error("failed to record TOTP code", slog.String("user_id", cred.UserID), slog.Any("error", err))
		return models.Internal(err)
	}
	if !first {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventTwoFactorFailed,
			UserID:        cred.UserID,
			FailureReason: "code_replayed",
		})
		return models.ErrInvalidTwoFactorCode
	}
	return nil
}

func (s *TwoFactorService) consumeBackupCode(ctx context.Context, userID, code string) error {
	ok, err := s.repo.ConsumeBackupCode(ctx, userID, s.totp.HashBackupCode(code))
	if err != nil {
		s.logger.Error("failed to consume backup code", slog.String("user_id", userID), slog.Any("error", err))
		return models.Internal(err)
	}
	if !ok {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventTwoFactorFailed,
			UserID:        userID,
			FailureReason: "invalid_backup_code",
		})
		return models.ErrInvalidTwoFactorCode
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventBackupCodeUsed, UserID: userID, Success: true})
	return nil
}
