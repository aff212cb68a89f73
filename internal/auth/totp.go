package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpSkew   = 1

	// BackupCodeLength is the number of characters in a backup code.
	BackupCodeLength = 8
	// DefaultBackupCodeCount is how many backup codes a setup hands out.
	DefaultBackupCodeCount = 10

	// Unambiguous alphabet: no 0/O, 1/I/L.
	backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

// TOTPManager handles TOTP secrets, their encryption at rest, code
// verification and backup codes.
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string
	now           func() time.Time
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
		now:           time.Now,
	}, nil
}

// TOTPSecret is a freshly generated secret plus what a client needs to
// enrol it.
type TOTPSecret struct {
	Secret     string // base32
	OTPAuthURL string
	QRCode     string // PNG data URL
}

// GenerateSecret creates a new secret for accountName (usually the email).
func (tm *TOTPManager) GenerateSecret(accountName string) (*TOTPSecret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	return &TOTPSecret{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// EncryptSecret seals the base32 secret with AES-256-GCM.
// Returns: (ciphertext, nonce, error)
func (tm *TOTPManager) EncryptSecret(secret string) ([]byte, []byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, []byte(secret), nil), nonce, nil
}

// DecryptSecret reverses EncryptSecret.
func (tm *TOTPManager) DecryptSecret(ciphertext, nonce []byte) (string, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce size: expected %d, got %d", gcm.NonceSize(), len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Verify reports whether code is valid for secret at the current time,
// accepting one period of clock skew in either direction.
func (tm *TOTPManager) Verify(secret, code string) bool {
	return tm.VerifyAt(secret, code, tm.now())
}

// VerifyAt is Verify at an explicit instant.
func (tm *TOTPManager) VerifyAt(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != int(otp.DigitsSix) {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// GenerateBackupCodes returns count random single-use codes.
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		code, err := randomString(backupCodeCharset, BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

// HashBackupCode returns the hex SHA-256 of the normalized code. Only hashes
// are stored.
func (tm *TOTPManager) HashBackupCode(code string) string {
	hash := sha256.Sum256([]byte(NormalizeBackupCode(code)))
	return hex.EncodeToString(hash[:])
}

// NormalizeBackupCode upper-cases code and strips separators users tend to
// type.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// IsBackupCodeFormat reports whether code looks like a backup code rather
// than a TOTP code.
func IsBackupCodeFormat(code string) bool {
	code = NormalizeBackupCode(code)
	if len(code) != BackupCodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(backupCodeCharset, c) {
			return false
		}
	}
	return true
}

// randomString draws n characters from charset using rejection sampling so
// every character is equally likely.
func randomString(charset string, n int) (string, error) {
	limit := byte(256 - 256%len(charset))
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, charset[int(b)%len(charset)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
