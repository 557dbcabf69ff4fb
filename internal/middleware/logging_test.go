package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T, req *http.Request, status int) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := SecureLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSecureLogger_RedactsOAuthCallbackQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/login/line/callback?code=abc&state=xyz", nil)
	req.RemoteAddr = "203.0.113.9:1234"

	entry := captureLog(t, req, http.StatusOK)

	assert.Equal(t, "/api/login/line/callback?[REDACTED]", entry["path"])
	assert.Equal(t, "203.0.113.9", entry["client_ip"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestSecureLogger_KeepsHarmlessQuery(t *testing.T) {
	entry := captureLog(t, httptest.NewRequest(http.MethodGet, "/health?verbose=1", nil), http.StatusOK)

	assert.Equal(t, "/health?verbose=1", entry["path"])
}

func TestSecureLogger_ServerErrorsLogAtErrorLevel(t *testing.T) {
	entry := captureLog(t, httptest.NewRequest(http.MethodPost, "/api/login", nil), http.StatusInternalServerError)

	assert.Equal(t, "ERROR", entry["level"])
	assert.EqualValues(t, http.StatusInternalServerError, entry["status"])
}
