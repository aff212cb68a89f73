package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "u***@*******.com", MaskEmail("user@example.com"))
	assert.Equal(t, "a@***.io", MaskEmail("a@foo.io"))
	assert.Equal(t, "[invalid-email]", MaskEmail("not-an-email"))
	assert.Equal(t, "[invalid-email]", MaskEmail("@example.com"))
}

func TestSanitizeQuery(t *testing.T) {
	assert.Equal(t, "", SanitizeQuery(""))
	assert.Equal(t, "page=2", SanitizeQuery("page=2"))

	sanitized := SanitizeQuery("reset_token=abc123&page=2")
	assert.NotContains(t, sanitized, "abc123")
	assert.Contains(t, sanitized, "page=2")

	assert.Equal(t, "[REDACTED]", SanitizeQuery("%zz"))
}

func TestAuditLogger_MasksEmailAndUsesWarnOnFailure(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	audit.Log(context.Background(), AuditEvent{
		EventType:     EventLoginFailed,
		Email:         "user@example.com",
		FailureReason: "invalid_credentials",
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, EventLoginFailed, entry["event_type"])
	assert.Equal(t, "u***@*******.com", entry["email"])
	assert.NotContains(t, buf.String(), "user@example.com")
}
