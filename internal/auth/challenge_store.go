package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrChallengeNotFound is returned by Consume when the key was never stored,
// has expired, or was already consumed.
var ErrChallengeNotFound = errors.New("challenge not found")

// ChallengeStore maps a key to an expected answer with per-entry expiry.
// Consume is delete-on-read: concurrent callers for the same key see the
// answer exactly once between them.
type ChallengeStore interface {
	Put(ctx context.Context, key, answer string, ttl time.Duration) error
	Consume(ctx context.Context, key string) (string, error)
}

type challengeEntry struct {
	answer string
	expiry time.Time
}

// MemoryChallengeStore is a process-local ChallengeStore for single-instance
// deployments and tests.
type MemoryChallengeStore struct {
	entries map[string]challengeEntry
	mu      sync.Mutex
	now     func() time.Time
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		entries: make(map[string]challengeEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source, used by tests.
func (s *MemoryChallengeStore) WithClock(now func() time.Time) *MemoryChallengeStore {
	s.now = now
	return s
}

// Put registers an answer, overwriting any prior entry for key.
func (s *MemoryChallengeStore) Put(_ context.Context, key, answer string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = challengeEntry{
		answer: answer,
		expiry: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", ErrChallengeNotFound
	}
	delete(s.entries, key)

	if !s.now().Before(entry.expiry) {
		return "", ErrChallengeNotFound
	}
	return entry.answer, nil
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryChallengeStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiry) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired or not.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
