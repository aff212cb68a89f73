package logger

import (
	"net/url"
	"strings"
)

var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"email",
	"auth",
}

// MaskEmail masks an email address for logging (e.g., "u***@e******.com")
func MaskEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || username == "" || domain == "" {
		return "[invalid-email]"
	}

	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	if dot := strings.LastIndex(domain, "."); dot > 0 {
		domain = strings.Repeat("*", dot) + domain[dot:]
	}

	return username + "@" + domain
}

// SanitizeQuery replaces the values of sensitive query parameters with
// "[REDACTED]". An unparsable query is redacted entirely.
func SanitizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[REDACTED]"
	}
	for key := range values {
		lower := strings.ToLower(key)
		for _, param := range sensitiveParams {
			if strings.Contains(lower, param) {
				values[key] = []string{"[REDACTED]"}
				break
			}
		}
	}
	return values.Encode()
}
