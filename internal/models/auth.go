package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

type TokenClaims struct {
	Type   TokenType `json:"type"`
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
