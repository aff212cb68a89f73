package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager issues and verifies access and refresh JWTs. Each token type
// has its own signing secret.
type TokenManager struct {
	accessSecret       []byte
	refreshSecret      []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	issuer             string
	now                func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration, issuer string) *TokenManager {
	return &TokenManager{
		accessSecret:       []byte(accessSecret),
		refreshSecret:      []byte(refreshSecret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		issuer:             issuer,
		now:                time.Now,
	}
}

func (tm *TokenManager) secretFor(tokenType models.TokenType) ([]byte, error) {
	switch tokenType {
	case models.TokenTypeAccess:
		return tm.accessSecret, nil
	case models.TokenTypeRefresh:
		return tm.refreshSecret, nil
	}
	return nil, fmt.Errorf("unknown token type %q", tokenType)
}

func (tm *TokenManager) issue(tokenType models.TokenType, userID, email string, ttl time.Duration) (string, time.Time, error) {
	secret, err := tm.secretFor(tokenType)
	if err != nil {
		return "", time.Time{}, err
	}

	// Second precision so the expiry we hand back matches the exp claim.
	now := tm.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// IssueAccessToken creates a short-lived access token.
func (tm *TokenManager) IssueAccessToken(userID, email string) (string, time.Time, error) {
	return tm.issue(models.TokenTypeAccess, userID, email, tm.accessTokenExpiry)
}

// IssueRefreshToken creates a long-lived refresh token. The random jti makes
// every refresh token value unique.
func (tm *TokenManager) IssueRefreshToken(userID, email string) (string, time.Time, error) {
	return tm.issue(models.TokenTypeRefresh, userID, email, tm.refreshTokenExpiry)
}

// Verify checks signature, expiry and type. Expired tokens yield
// models.ErrTokenExpired; every other failure, including a type mismatch,
// yields models.ErrTokenInvalid.
func (tm *TokenManager) Verify(tokenString string, expected models.TokenType) (*models.TokenClaims, error) {
	secret, err := tm.secretFor(expected)
	if err != nil {
		return nil, models.ErrTokenInvalid.Wrap(err)
	}

	claims := &models.TokenClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired.Wrap(err)
		}
		return nil, models.ErrTokenInvalid.Wrap(err)
	}

	if claims.Type != expected {
		return nil, models.ErrTokenInvalid.Wrap(fmt.Errorf("expected %s token, got %q", expected, claims.Type))
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, models.ErrTokenInvalid.Wrap(errors.New("subject mismatch"))
	}

	return claims, nil
}
