package auth

import (
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig holds the padding applied to failed credential checks
type TimingConfig struct {
	BaseDelay   time.Duration
	RandomDelay time.Duration
}

// TimingDelay pads failed logins so unknown-user and wrong-password failures
// take about the same wall time.
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config, sleep: time.Sleep}
}

// WithSleep replaces the sleep function, used by tests.
func (td *TimingDelay) WithSleep(sleep func(time.Duration)) *TimingDelay {
	td.sleep = sleep
	return td
}

// Target returns base delay plus a crypto-random jitter below RandomDelay.
func (td *TimingDelay) Target() time.Duration {
	target := td.config.BaseDelay
	if td.config.RandomDelay > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.RandomDelay)))
		if err == nil {
			target += time.Duration(n.Int64())
		}
	}
	return target
}

// WaitFrom sleeps until at least Target has elapsed since start.
func (td *TimingDelay) WaitFrom(start time.Time) {
	target := td.Target()
	if elapsed := time.Since(start); elapsed < target {
		td.sleep(target - elapsed)
	}
}
