package routes

import (
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies groups what the route table needs.
type Dependencies struct {
	Auth       *handlers.AuthHandler
	TwoFactor  *handlers.TwoFactorHandler
	Health     *handlers.HealthHandler
	Verifier   auth.AccessTokenVerifier
	IPResolver *pkghttp.IPResolver
	// AuthRateLimit is the per-IP budget for credential endpoints, per minute.
	AuthRateLimit int
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.Health.Health)

	router.Route("/api/v1/auth", func(r chi.Router) {
		// Each credential endpoint gets its own per-IP budget.
		limit := func() func(http.Handler) http.Handler {
			return middleware.RateLimitByIP(middleware.AuthRateLimit(deps.AuthRateLimit), deps.IPResolver)
		}

		// Public routes - no authentication required
		r.With(limit()).Post("/register", deps.Auth.Register)
		r.With(limit()).Post("/login", deps.Auth.Login)
		r.With(limit()).Post("/forgot-password", deps.Auth.ForgotPassword)
		r.With(limit()).Post("/resend-verification", deps.Auth.ResendVerification)
		r.With(limit()).Post("/2fa/verify", deps.TwoFactor.Verify)
		r.Post("/refresh", deps.Auth.Refresh)
		r.Post("/logout", deps.Auth.Logout)
		r.Post("/reset-password", deps.Auth.ResetPassword)
		r.Post("/verify-email", deps.Auth.VerifyEmail)

		// Protected routes - access token required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(deps.Verifier))

			r.Get("/me", deps.Auth.Me)
			r.Post("/logout-all", deps.Auth.LogoutAll)
			r.Post("/2fa/setup", deps.TwoFactor.Setup)
			r.Post("/2fa/enable", deps.TwoFactor.Enable)
			r.Post("/2fa/disable", deps.TwoFactor.Disable)
		})
	})
}
