package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/BradenHooton/marketauth/internal/services"
	pkghttp "github.com/BradenHooton/marketauth/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		Type:   models.TokenTypeSession,
		UserID: userID,
	}
	return req.WithContext(auth.WithUser(req.Context(), claims))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	IssueChallengeFunc func(ctx context.Context) (*services.Challenge, error)
	LoginFunc          func(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error)
	RegisterFunc       func(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error)
}

func (m *MockAuthService) IssueChallenge(ctx context.Context) (*services.Challenge, error) {
	if m.IssueChallengeFunc != nil {
		return m.IssueChallengeFunc(ctx)
	}
	return &services.Challenge{Token: "captcha-token", Text: "AB12"}, nil
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

// MockUserService implements UserServiceInterface for testing
type MockUserService struct {
	ProfileFunc        func(ctx context.Context, userID string) (*services.UserResponse, error)
	ChangeUsernameFunc func(ctx context.Context, userID, username, ip string) (*services.AuthResponse, error)
	ChangePasswordFunc func(ctx context.Context, userID string, in services.ChangePasswordInput) error
}

func (m *MockUserService) Profile(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.ProfileFunc != nil {
		return m.ProfileFunc(ctx, userID)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockUserService) ChangeUsername(ctx context.Context, userID, username, ip string) (*services.AuthResponse, error) {
	if m.ChangeUsernameFunc != nil {
		return m.ChangeUsernameFunc(ctx, userID, username, ip)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserService) ChangePassword(ctx context.Context, userID string, in services.ChangePasswordInput) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, userID, in)
	}
	return nil
}

// MockOAuthService implements OAuthServiceInterface for testing
type MockOAuthService struct {
	InitLoginFunc           func(ctx context.Context, provider string) (string, error)
	InitLinkFunc            func(ctx context.Context, provider, userID string) (string, error)
	HandleLoginCallbackFunc func(ctx context.Context, provider, state, code, ip string) (*services.AuthResponse, error)
	HandleLinkCallbackFunc  func(ctx context.Context, provider, state, code, ip string) (*services.LinkResult, error)
}

func (m *MockOAuthService) InitLogin(ctx context.Context, provider string) (string, error) {
	if m.InitLoginFunc != nil {
		return m.InitLoginFunc(ctx, provider)
	}
	return "https://provider.example/authorize", nil
}

func (m *MockOAuthService) InitLink(ctx context.Context, provider, userID string) (string, error) {
	if m.InitLinkFunc != nil {
		return m.InitLinkFunc(ctx, provider, userID)
	}
	return "https://provider.example/authorize", nil
}

func (m *MockOAuthService) HandleLoginCallback(ctx context.Context, provider, state, code, ip string) (*services.AuthResponse, error) {
	if m.HandleLoginCallbackFunc != nil {
		return m.HandleLoginCallbackFunc(ctx, provider, state, code, ip)
	}
	return nil, models.ErrInternalServer
}

func (m *MockOAuthService) HandleLinkCallback(ctx context.Context, provider, state, code, ip string) (*services.LinkResult, error) {
	if m.HandleLinkCallbackFunc != nil {
		return m.HandleLinkCallbackFunc(ctx, provider, state, code, ip)
	}
	return nil, models.ErrInternalServer
}

// MockRenderer implements CaptchaRenderer for testing
type MockRenderer struct {
	Err error
}

func (m *MockRenderer) Render(text string) ([]byte, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return []byte("png:" + text), nil
}
