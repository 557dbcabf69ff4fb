//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/captcha"
	"github.com/BradenHooton/marketauth/internal/database"
	"github.com/BradenHooton/marketauth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/marketauth/internal/middleware"
	"github.com/BradenHooton/marketauth/internal/repositories"
	"github.com/BradenHooton/marketauth/internal/routes"
	"github.com/BradenHooton/marketauth/internal/services"
	pkgauth "github.com/BradenHooton/marketauth/pkg/auth"
	pkglogger "github.com/BradenHooton/marketauth/pkg/logger"
)

const testJWTSecret = "integration-secret-32-characters-long"

// recordingStore remembers the last captcha answer so tests can solve the
// challenge the server just rendered.
type recordingStore struct {
	auth.ChallengeStore

	mu   sync.Mutex
	last string
}

func (s *recordingStore) Put(ctx context.Context, key, answer string, ttl time.Duration) error {
	s.mu.Lock()
	s.last = answer
	s.mu.Unlock()
	return s.ChallengeStore.Put(ctx, key, answer, ttl)
}

func (s *recordingStore) LastAnswer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// MockLockoutNotifier captures lockout notices
type MockLockoutNotifier struct {
	mu      sync.Mutex
	Notices []string
}

func (m *MockLockoutNotifier) NotifyLockout(ctx context.Context, email, username string, lockedUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notices = append(m.Notices, email)
	return nil
}

func (m *MockLockoutNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Notices)
}

// TestServer wraps httptest.Server with the real database and in-memory stores
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Users    *repositories.UserRepository
	Captcha  *recordingStore
	Notifier *MockLockoutNotifier
	Tokens   *auth.TokenManager
}

// NewTestServer wires the production router against db
func NewTestServer(db *database.DB) *TestServer {
	logger := quietLogger()
	auditLogger := pkglogger.NewAuditLogger(logger)

	userRepo := repositories.NewUserRepository(db)
	captchaStore := &recordingStore{ChallengeStore: auth.NewMemoryChallengeStore()}
	notifier := &MockLockoutNotifier{}

	tm := auth.NewTokenManager(auth.TokenConfig{
		Secret:        testJWTSecret,
		SessionExpiry: 30 * time.Minute,
		CaptchaTTL:    5 * time.Minute,
		StateTTL:      10 * time.Minute,
	})
	hasher := pkgauth.NewPasswordHasher(bcrypt.MinCost)

	captchaService := services.NewCaptchaService(tm, captchaStore, logger)
	lockoutService := services.NewLockoutService(userRepo, notifier, services.LockoutConfig{
		MaxFailedAttempts: 5,
		LockoutDuration:   30 * time.Minute,
	}, logger, auditLogger)
	authService := services.NewAuthService(userRepo, captchaService, lockoutService, tm, hasher,
		auth.NewTimingDelay(auth.TimingConfig{}), logger, auditLogger)
	userService := services.NewUserService(userRepo, tm, hasher, logger, auditLogger)
	oauthService := services.NewOAuthService(userRepo, auth.NewProviderRegistry(
		auth.NewOAuth2Provider(auth.LineSpec(), auth.ProviderCredentials{}),
		auth.NewOAuth2Provider(auth.GoogleSpec(), auth.ProviderCredentials{}),
	), tm, auth.NewMemoryChallengeStore(), 5*time.Second, logger, auditLogger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r, routes.Handlers{
		Auth:   handlers.NewAuthHandler(authService, captcha.NewRenderer(0, 0), nil, logger),
		Users:  handlers.NewUserHandler(userService, nil),
		OAuth:  handlers.NewOAuthHandler(oauthService, nil),
		Health: db,
	}, tm, middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000})

	return &TestServer{
		Server:   httptest.NewServer(r),
		DB:       db,
		Users:    userRepo,
		Captcha:  captchaStore,
		Notifier: notifier,
		Tokens:   tm,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

// SolveCaptcha fetches a challenge and returns its token with the stored answer
func (ts *TestServer) SolveCaptcha(t *testing.T) (token, answer string) {
	t.Helper()

	resp := ts.Request(t, http.MethodGet, "/api/captcha", nil, "")
	var body handlers.CaptchaResponse
	if err := ParseJSONResponse(resp, &body); err != nil {
		t.Fatalf("failed to decode captcha: %v", err)
	}
	return body.CaptchaToken, ts.Captcha.LastAnswer()
}

// Login solves a fresh captcha and posts the credentials
func (ts *TestServer) Login(t *testing.T, username, password string) *http.Response {
	t.Helper()

	token, answer := ts.SolveCaptcha(t)
	return ts.Request(t, http.MethodPost, "/api/login", handlers.LoginRequest{
		Username:      username,
		Password:      password,
		CaptchaToken:  token,
		CaptchaAnswer: answer,
	}, "")
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
