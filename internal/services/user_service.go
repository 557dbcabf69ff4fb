package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/models"
	pkgauth "github.com/BradenHooton/marketauth/pkg/auth"
	pkglogger "github.com/BradenHooton/marketauth/pkg/logger"
)

// ChangePasswordInput carries a password change for the session user
type ChangePasswordInput struct {
	OldPassword     string
	NewPassword     string
	ConfirmPassword string
	IPAddress       string
}

// UserService handles account management for authenticated users
type UserService struct {
	users       UserRepository
	tm          *auth.TokenManager
	hasher      *pkgauth.PasswordHasher
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewUserService creates a new UserService
func NewUserService(users UserRepository, tm *auth.TokenManager, hasher *pkgauth.PasswordHasher, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *UserService {
	return &UserService{
		users:       users,
		tm:          tm,
		hasher:      hasher,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// currentUser loads the account behind a session. A session whose account
// no longer exists is unauthorized.
func (s *UserService) currentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}

// Profile returns the public profile of the session user
func (s *UserService) Profile(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp, err := profileResponse(ctx, s.users, user)
	if err != nil {
		s.logger.Error("failed to load profile", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return resp, nil
}

// ChangeUsername renames the account and returns a freshly minted session.
func (s *UserService) ChangeUsername(ctx context.Context, userID, username, ip string) (*AuthResponse, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, models.NewValidationError("username", "username must be 3-32 letters, digits or underscores")
	}

	current, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	user := current
	if current.Username != username {
		user, err = s.users.UpdateUsername(ctx, userID, username)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrConflict):
				return nil, models.ErrConflict
			case errors.Is(err, models.ErrNotFound):
				return nil, models.ErrUnauthorized
			}
			s.logger.Error("failed to update username", slog.String("user_id", userID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.logger.Info("username changed", slog.String("user_id", userID))
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventUsernameChange,
			UserID:    userID,
			Username:  username,
			IPAddress: ip,
			Success:   true,
		})
	}

	resp, err := issueSession(ctx, s.tm, s.users, user)
	if err != nil {
		s.logger.Error("failed to issue session", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return resp, nil
}

// ChangePassword replaces the account password. Accounts created through an
// identity provider have no password yet and skip the old password check.
// A wrong old password does not count toward lockout.
func (s *UserService) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.HasPassword() {
		if in.OldPassword == "" {
			return models.NewValidationError("old_password", "current password is required")
		}
		if !s.hasher.Compare(user.PasswordHash, in.OldPassword) {
			s.auditLogger.Log(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventPasswordChange,
				UserID:        userID,
				IPAddress:     in.IPAddress,
				FailureReason: "invalid_old_password",
			})
			return models.ErrInvalidCredentials
		}
	}

	if err := pkgauth.ValidatePassword(in.NewPassword); err != nil {
		return models.NewValidationError("new_password", err.Error())
	}
	if in.NewPassword != in.ConfirmPassword {
		return models.NewValidationError("confirm_password", "passwords do not match")
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("password changed", slog.String("user_id", userID))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventPasswordChange,
		UserID:    userID,
		IPAddress: in.IPAddress,
		Success:   true,
	})

	return nil
}
