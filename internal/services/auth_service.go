package services

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/models"
	pkgauth "github.com/BradenHooton/marketauth/pkg/auth"
	pkglogger "github.com/BradenHooton/marketauth/pkg/logger"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// LoginInput carries one password login attempt
type LoginInput struct {
	Username      string
	Password      string
	CaptchaToken  string
	CaptchaAnswer string
	IPAddress     string
}

// RegisterInput carries a new password account
type RegisterInput struct {
	Username        string
	Password        string
	ConfirmPassword string
	DisplayName     string
	Email           string
	Phone           string
	Role            string
	BusinessName    string
	BusinessType    string
	Address         string
	IPAddress       string
}

// AuthService handles password authentication and registration
type AuthService struct {
	users       UserRepository
	captcha     *CaptchaService
	lockout     *LockoutService
	tm          *auth.TokenManager
	hasher      *pkgauth.PasswordHasher
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	captcha *CaptchaService,
	lockout *LockoutService,
	tm *auth.TokenManager,
	hasher *pkgauth.PasswordHasher,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		captcha:     captcha,
		lockout:     lockout,
		tm:          tm,
		hasher:      hasher,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// IssueChallenge returns a new captcha token and the text to render.
func (s *AuthService) IssueChallenge(ctx context.Context) (*Challenge, error) {
	return s.captcha.Issue(ctx)
}

// Login checks, in order: required fields, captcha, lockout, credentials.
// A captcha failure never touches the lockout counter, and unknown user and
// wrong password are reported identically.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResponse, error) {
	username := strings.TrimSpace(in.Username)

	switch {
	case strings.TrimSpace(in.CaptchaToken) == "":
		return nil, models.NewValidationError("captcha_token", "captcha token is required")
	case strings.TrimSpace(in.CaptchaAnswer) == "":
		return nil, models.NewValidationError("captcha_answer", "captcha answer is required")
	case username == "":
		return nil, models.NewValidationError("username", "username is required")
	case in.Password == "":
		return nil, models.NewValidationError("password", "password is required")
	}

	if err := s.captcha.Verify(ctx, in.CaptchaToken, in.CaptchaAnswer); err != nil {
		if errors.Is(err, models.ErrCaptcha) {
			s.auditLogger.Log(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventCaptchaFailure,
				Username:      username,
				IPAddress:     in.IPAddress,
				FailureReason: err.Error(),
			})
		}
		return nil, err
	}

	locked, until, err := s.lockout.IsLocked(ctx, username)
	if err != nil {
		s.logger.Error("failed to check lockout state", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if locked {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLogin,
			Username:      username,
			IPAddress:     in.IPAddress,
			FailureReason: "account_locked",
		})
		return nil, &models.LockoutError{Until: *until}
	}

	start := time.Now()
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user == nil || !user.HasPassword() || !s.hasher.Compare(user.PasswordHash, in.Password) {
		if user == nil || !user.HasPassword() {
			s.hasher.CompareDummy(in.Password)
		}
		return nil, s.failLogin(ctx, username, in.IPAddress, start)
	}

	if err := s.lockout.Reset(ctx, username); err != nil {
		s.logger.Error("failed to reset lockout state", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	resp, err := issueSession(ctx, s.tm, s.users, user)
	if err != nil {
		s.logger.Error("failed to issue session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogin,
		UserID:    user.ID,
		IPAddress: in.IPAddress,
		Success:   true,
	})

	return resp, nil
}

func (s *AuthService) failLogin(ctx context.Context, username, ip string, start time.Time) error {
	if err := s.lockout.RecordFailure(ctx, username); err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("login failed: invalid credentials")
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventLogin,
		Username:      username,
		IPAddress:     ip,
		FailureReason: "invalid_credentials",
	})

	if s.timing != nil {
		s.timing.WaitFrom(start)
	}
	return models.ErrInvalidCredentials
}

// VerifySession returns the user id a session token was minted for.
func (s *AuthService) VerifySession(token string) (string, error) {
	claims, err := s.tm.ValidateSessionToken(token)
	if err != nil {
		return "", models.ErrUnauthorized
	}
	return claims.UserID, nil
}

// Register creates a password account. Merchant accounts get their profile in
// the same transaction.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*UserResponse, error) {
	newUser, err := s.validateRegistration(in)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	newUser.PasswordHash = hash

	user, err := s.users.Create(ctx, newUser)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID), slog.String("role", user.Role))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRegister,
		UserID:    user.ID,
		IPAddress: in.IPAddress,
		Success:   true,
	})

	resp, err := profileResponse(ctx, s.users, user)
	if err != nil {
		s.logger.Error("failed to load profile", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return resp, nil
}

func (s *AuthService) validateRegistration(in RegisterInput) (*models.NewUser, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, models.NewValidationError("username", "username must be 3-32 letters, digits or underscores")
	}

	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError("password", err.Error())
	}
	if in.Password != in.ConfirmPassword {
		return nil, models.NewValidationError("confirm_password", "passwords do not match")
	}

	role := strings.ToLower(strings.TrimSpace(in.Role))
	if role == "" {
		role = models.RoleCustomer
	}
	if role != models.RoleCustomer && role != models.RoleMerchant {
		return nil, models.NewValidationError("role", "role must be customer or merchant")
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	newUser := &models.NewUser{
		Username:    username,
		DisplayName: displayName,
		Role:        role,
		Email:       optional(strings.ToLower(in.Email)),
		Phone:       optional(in.Phone),
	}

	if role == models.RoleMerchant {
		businessName := strings.TrimSpace(in.BusinessName)
		if businessName == "" {
			return nil, models.NewValidationError("business_name", "business name is required for merchants")
		}
		newUser.Merchant = &models.MerchantProfile{
			BusinessName: businessName,
			BusinessType: strings.TrimSpace(in.BusinessType),
			Address:      strings.TrimSpace(in.Address),
		}
	}

	return newUser, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
