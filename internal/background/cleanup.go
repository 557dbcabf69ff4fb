package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Purger drops expired entries from an in-process store
type Purger interface {
	Purge() int
}

// LockClearer resets accounts whose lock deadline has passed
type LockClearer interface {
	ClearExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically purges expired challenges and stale lockouts.
// Redis-backed stores expire on their own and are not registered here.
type CleanupManager struct {
	stores   map[string]Purger
	locks    LockClearer
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. stores maps a name used in
// log lines to the store to purge; locks may be nil.
func NewCleanupManager(
	stores map[string]Purger,
	locks LockClearer,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		stores:   stores,
		locks:    locks,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task and blocks until Stop is called or
// ctx is cancelled.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	for name, store := range cm.stores {
		if removed := store.Purge(); removed > 0 {
			cm.logger.Info("purged expired challenges",
				slog.String("store", name),
				slog.Int("removed", removed))
		}
	}

	if cm.locks == nil {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cleared, err := cm.locks.ClearExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to clear expired lockouts", slog.Any("error", err))
		return
	}
	if cleared > 0 {
		cm.logger.Info("cleared expired lockouts", slog.Int64("accounts", cleared))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
