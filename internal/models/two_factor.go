package models

import (
	"time"
)

// TwoFactorCredential holds a user's TOTP secret and remaining backup codes.
type TwoFactorCredential struct {
	UserID           string
	SecretEncrypted  []byte // AES-256-GCM encrypted TOTP secret
	SecretNonce      []byte // GCM nonce (12 bytes)
	Enabled          bool
	BackupCodeHashes []string // SHA-256 hex of each unused backup code
	EnabledAt        *time.Time
	LastUsedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TwoFactorSetup contains enrolment information shown to the user once.
type TwoFactorSetup struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauthUrl"`
	QRCode      string   `json:"qrCode"` // PNG data URL
	BackupCodes []string `json:"backupCodes"`
}
