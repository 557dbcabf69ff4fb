package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedUsername(t *testing.T) {
	assert.Equal(t, "al***", SanitizedUsername("alice"))
	assert.Equal(t, "**", SanitizedUsername("ab"))
	assert.Equal(t, "[empty]", SanitizedUsername(""))
	assert.Equal(t, "店主**", SanitizedUsername("店主小王"))
}

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a****@*******.com", SanitizedEmail("alice@example.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("code=abc&state=xyz"))
	assert.True(t, SanitizeQueryString("token=abc"))
	assert.False(t, SanitizeQueryString("page=2"))
}

func TestAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	al.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	al.Log(context.Background(), AuditEvent{
		EventType:     EventLogin,
		Username:      "alice",
		IPAddress:     "203.0.113.9",
		Success:       false,
		FailureReason: "invalid_credentials",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "auth", entry["audit_type"])
	assert.Equal(t, "login", entry["event_type"])
	assert.Equal(t, "al***", entry["username"])
	assert.Equal(t, "invalid_credentials", entry["failure_reason"])
	assert.Equal(t, "2026-03-01T12:00:00Z", entry["timestamp"])
	assert.NotContains(t, entry, "user_id")
}

func TestAuditLogger_Log_AccountEventSuccess(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.Log(context.Background(), AuditEvent{
		EventType: EventOAuthLink,
		UserID:    "user-1",
		Provider:  "line",
		Success:   true,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "account", entry["audit_type"])
	assert.Equal(t, "line", entry["provider"])
}
