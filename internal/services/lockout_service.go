package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/marketauth/internal/models"
	pkglogger "github.com/BradenHooton/marketauth/pkg/logger"
)

// LockoutConfig holds configuration for account lockout behavior
type LockoutConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// LockoutService tracks failed logins per account and arms a time-boxed lock
// once MaxFailedAttempts is reached. Accounts that do not exist are ignored.
type LockoutService struct {
	repo        LockoutRepository
	notifier    LockoutNotifier
	config      LockoutConfig
	now         func() time.Time
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewLockoutService(repo LockoutRepository, notifier LockoutNotifier, config LockoutConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LockoutService {
	if notifier == nil {
		notifier = NoopLockoutNotifier{}
	}
	return &LockoutService{
		repo:        repo,
		notifier:    notifier,
		config:      config,
		now:         time.Now,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// WithClock replaces the time source, used by tests.
func (s *LockoutService) WithClock(now func() time.Time) *LockoutService {
	s.now = now
	return s
}

// IsLocked reports whether username is locked right now and until when.
// A deadline in the past counts as unlocked.
func (s *LockoutService) IsLocked(ctx context.Context, username string) (bool, *time.Time, error) {
	until, err := s.repo.GetLockedUntil(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	if until == nil || !s.now().Before(*until) {
		return false, nil, nil
	}
	return true, until, nil
}

// RecordFailure counts one failed credential check against username.
func (s *LockoutService) RecordFailure(ctx context.Context, username string) error {
	now := s.now()
	state, err := s.repo.RecordFailure(ctx, username, now, now.Add(s.config.LockoutDuration), s.config.MaxFailedAttempts)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	if state.NewlyLocked && state.LockedUntil != nil {
		s.logger.Warn("account locked after repeated failures",
			slog.String("username", pkglogger.SanitizedUsername(username)),
			slog.Int("failed_attempts", state.FailedAttempts),
			slog.Time("locked_until", *state.LockedUntil))
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventAccountLocked,
			Username:  username,
			Success:   false,
			Metadata:  map[string]string{"locked_until": state.LockedUntil.UTC().Format(time.RFC3339)},
		})

		if state.Email != nil && *state.Email != "" {
			if err := s.notifier.NotifyLockout(ctx, *state.Email, username, *state.LockedUntil); err != nil {
				s.logger.Error("failed to send lockout notification",
					slog.String("username", pkglogger.SanitizedUsername(username)),
					slog.Any("error", err))
			}
		}
	}

	return nil
}

// Reset zeroes the counter and clears any deadline.
func (s *LockoutService) Reset(ctx context.Context, username string) error {
	if err := s.repo.ResetFailures(ctx, username); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return nil
}

// ClearExpired resets accounts whose lock deadline has passed.
func (s *LockoutService) ClearExpired(ctx context.Context) (int64, error) {
	return s.repo.ClearExpiredLocks(ctx, s.now())
}
