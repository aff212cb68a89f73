package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// AuthRateLimit returns the per-IP limit applied to credential endpoints.
func AuthRateLimit(perMinute int) RateLimitConfig {
	return RateLimitConfig{
		Requests: perMinute,
		Window:   time.Minute,
	}
}

// RateLimitByIP limits requests per client IP. The client IP comes from the
// resolver so forwarded headers count only behind trusted proxies.
func RateLimitByIP(config RateLimitConfig, ipResolver *pkghttp.IPResolver) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ipResolver.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "too many requests, please try again later")
		}),
	)
}
