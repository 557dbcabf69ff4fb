package services

import (
	"context"
	"time"

	"github.com/BradenHooton/marketauth/internal/models"
)

// UserRepository is the persistent user store consumed by the services.
// Lookups return models.ErrNotFound on a miss and writes return
// models.ErrConflict when a unique index rejects them.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByProviderID(ctx context.Context, provider, externalID string) (*models.User, error)
	Create(ctx context.Context, in *models.NewUser) (*models.User, error)
	GetMerchantProfile(ctx context.Context, userID string) (*models.MerchantProfile, error)
	UpdateUsername(ctx context.Context, id, username string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	LinkProvider(ctx context.Context, id, provider, externalID string) error
}

// LockoutRepository holds per-account failure counters and lock deadlines.
type LockoutRepository interface {
	GetLockedUntil(ctx context.Context, username string) (*time.Time, error)
	RecordFailure(ctx context.Context, username string, now, deadline time.Time, maxAttempts int) (*models.LockoutState, error)
	ResetFailures(ctx context.Context, username string) error
	ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}
