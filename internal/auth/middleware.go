package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

// UserContextKey is the key for storing access token claims in context
const UserContextKey contextKey = "user"

// AccessTokenVerifier verifies bearer tokens.
type AccessTokenVerifier interface {
	Verify(token string, expected models.TokenType) (*models.TokenClaims, error)
}

// AuthMiddleware requires a valid access token in the Authorization header
// and stores its claims in the request context. Refresh tokens are rejected.
func AuthMiddleware(verifier AccessTokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := verifier.Verify(token, models.TokenTypeAccess)
			if err != nil {
				pkghttp.WriteAppError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
