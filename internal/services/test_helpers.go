package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// MockUserRepository implements UserRepository for testing. Unset funcs fall
// back to the embedded store when one is supplied.
type MockUserRepository struct {
	Store *FakeUserStore

	GetByIDFunc            func(ctx context.Context, id string) (*models.User, error)
	GetByUsernameFunc      func(ctx context.Context, username string) (*models.User, error)
	GetByProviderIDFunc    func(ctx context.Context, provider, externalID string) (*models.User, error)
	CreateFunc             func(ctx context.Context, in *models.NewUser) (*models.User, error)
	GetMerchantProfileFunc func(ctx context.Context, userID string) (*models.MerchantProfile, error)
	UpdateUsernameFunc     func(ctx context.Context, id, username string) (*models.User, error)
	UpdatePasswordFunc     func(ctx context.Context, id, passwordHash string) error
	LinkProviderFunc       func(ctx context.Context, id, provider, externalID string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	if m.Store != nil {
		return m.Store.GetByID(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	if m.Store != nil {
		return m.Store.GetByUsername(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByProviderID(ctx context.Context, provider, externalID string) (*models.User, error) {
	if m.GetByProviderIDFunc != nil {
		return m.GetByProviderIDFunc(ctx, provider, externalID)
	}
	if m.Store != nil {
		return m.Store.GetByProviderID(ctx, provider, externalID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, in *models.NewUser) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, in)
	}
	if m.Store != nil {
		return m.Store.Create(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) GetMerchantProfile(ctx context.Context, userID string) (*models.MerchantProfile, error) {
	if m.GetMerchantProfileFunc != nil {
		return m.GetMerchantProfileFunc(ctx, userID)
	}
	if m.Store != nil {
		return m.Store.GetMerchantProfile(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) UpdateUsername(ctx context.Context, id, username string) (*models.User, error) {
	if m.UpdateUsernameFunc != nil {
		return m.UpdateUsernameFunc(ctx, id, username)
	}
	if m.Store != nil {
		return m.Store.UpdateUsername(ctx, id, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	if m.Store != nil {
		return m.Store.UpdatePassword(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) LinkProvider(ctx context.Context, id, provider, externalID string) error {
	if m.LinkProviderFunc != nil {
		return m.LinkProviderFunc(ctx, id, provider, externalID)
	}
	if m.Store != nil {
		return m.Store.LinkProvider(ctx, id, provider, externalID)
	}
	return nil
}

// FakeUserStore is an in-memory UserRepository and LockoutRepository that
// mirrors the unique indexes and lockout update of the postgres repository.
type FakeUserStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	merchants map[string]*models.MerchantProfile
}

func NewFakeUserStore() *FakeUserStore {
	return &FakeUserStore{
		users:     make(map[string]*models.User),
		merchants: make(map[string]*models.MerchantProfile),
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func (s *FakeUserStore) findLocked(match func(*models.User) bool) *models.User {
	for _, u := range s.users {
		if match(u) {
			return u
		}
	}
	return nil
}

func (s *FakeUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, models.ErrNotFound
}

func (s *FakeUserStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.findLocked(func(u *models.User) bool { return u.Username == username }); u != nil {
		return copyUser(u), nil
	}
	return nil, models.ErrNotFound
}

func (s *FakeUserStore) GetByProviderID(_ context.Context, provider, externalID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findLocked(func(u *models.User) bool {
		id := u.ProviderID(provider)
		return id != nil && *id == externalID
	})
	if u == nil {
		return nil, models.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *FakeUserStore) Create(_ context.Context, in *models.NewUser) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(func(u *models.User) bool { return u.Username == in.Username }) != nil {
		return nil, models.ErrConflict
	}
	if in.Email != nil && s.findLocked(func(u *models.User) bool { return u.Email != nil && *u.Email == *in.Email }) != nil {
		return nil, models.ErrConflict
	}

	now := time.Now()
	u := &models.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		PasswordHash: in.PasswordHash,
		DisplayName:  in.DisplayName,
		Role:         in.Role,
		Email:        in.Email,
		Phone:        in.Phone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Role == "" {
		u.Role = models.RoleCustomer
	}
	if in.Provider != "" {
		if s.slotTakenLocked(in.Provider, in.ExternalID, "") {
			return nil, models.ErrConflict
		}
		setSlot(u, in.Provider, in.ExternalID)
	}

	s.users[u.ID] = u
	if u.Role == models.RoleMerchant && in.Merchant != nil {
		p := *in.Merchant
		p.UserID = u.ID
		p.CreatedAt = now
		s.merchants[u.ID] = &p
	}
	return copyUser(u), nil
}

func (s *FakeUserStore) slotTakenLocked(provider, externalID, exceptID string) bool {
	return s.findLocked(func(u *models.User) bool {
		id := u.ProviderID(provider)
		return u.ID != exceptID && id != nil && *id == externalID
	}) != nil
}

func setSlot(u *models.User, provider, externalID string) {
	id := externalID
	switch provider {
	case models.ProviderLine:
		u.LineID = &id
	case models.ProviderGoogle:
		u.GoogleID = &id
	}
}

func (s *FakeUserStore) GetMerchantProfile(_ context.Context, userID string) (*models.MerchantProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.merchants[userID]; ok {
		c := *p
		return &c, nil
	}
	return nil, models.ErrNotFound
}

func (s *FakeUserStore) UpdateUsername(_ context.Context, id, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if s.findLocked(func(o *models.User) bool { return o.ID != id && o.Username == username }) != nil {
		return nil, models.ErrConflict
	}
	u.Username = username
	u.UpdatedAt = time.Now()
	return copyUser(u), nil
}

func (s *FakeUserStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.FailedAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (s *FakeUserStore) LinkProvider(_ context.Context, id, provider, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	if s.slotTakenLocked(provider, externalID, id) {
		return models.ErrConflict
	}
	if current := u.ProviderID(provider); current != nil && *current != externalID {
		return models.ErrConflict
	}
	setSlot(u, provider, externalID)
	return nil
}

func (s *FakeUserStore) GetLockedUntil(_ context.Context, username string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findLocked(func(u *models.User) bool { return u.Username == username })
	if u == nil {
		return nil, models.ErrNotFound
	}
	return u.LockedUntil, nil
}

// RecordFailure follows the CASE expressions of the postgres update.
func (s *FakeUserStore) RecordFailure(_ context.Context, username string, now, deadline time.Time, maxAttempts int) (*models.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findLocked(func(u *models.User) bool { return u.Username == username })
	if u == nil {
		return nil, models.ErrNotFound
	}

	switch {
	case u.LockedUntil != nil && !u.LockedUntil.After(now):
		u.FailedAttempts = 1
		u.LockedUntil = nil
		if maxAttempts <= 1 {
			u.LockedUntil = &deadline
		}
	case u.LockedUntil != nil:
	default:
		if u.FailedAttempts < maxAttempts {
			u.FailedAttempts++
		}
		if u.FailedAttempts >= maxAttempts {
			d := deadline
			u.LockedUntil = &d
		}
	}

	return &models.LockoutState{
		FailedAttempts: u.FailedAttempts,
		LockedUntil:    u.LockedUntil,
		NewlyLocked:    u.LockedUntil != nil && u.LockedUntil.Equal(deadline),
		Email:          u.Email,
	}, nil
}

func (s *FakeUserStore) ResetFailures(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.findLocked(func(u *models.User) bool { return u.Username == username }); u != nil {
		u.FailedAttempts = 0
		u.LockedUntil = nil
	}
	return nil
}

func (s *FakeUserStore) ClearExpiredLocks(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.users {
		if u.LockedUntil != nil && !u.LockedUntil.After(now) {
			u.FailedAttempts = 0
			u.LockedUntil = nil
			n++
		}
	}
	return n, nil
}

// MockProvider implements auth.Provider for testing.
type MockProvider struct {
	KeyValue          string
	Unconfigured      bool
	ExchangeFunc      func(ctx context.Context, code string) (*oauth2.Token, error)
	FetchIdentityFunc func(ctx context.Context, token *oauth2.Token) (*auth.ExternalIdentity, error)
}

func (m *MockProvider) Key() string      { return m.KeyValue }
func (m *MockProvider) Configured() bool { return !m.Unconfigured }

func (m *MockProvider) AuthCodeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (m *MockProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code)
	}
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (m *MockProvider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*auth.ExternalIdentity, error) {
	if m.FetchIdentityFunc != nil {
		return m.FetchIdentityFunc(ctx, token)
	}
	return &auth.ExternalIdentity{Provider: m.KeyValue, Subject: "subject-" + token.AccessToken}, nil
}

// MockLockoutNotifier records lockout notifications.
type MockLockoutNotifier struct {
	mu    sync.Mutex
	Calls []string
	Err   error
}

func (m *MockLockoutNotifier) NotifyLockout(_ context.Context, email, username string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, email+"|"+username)
	return m.Err
}

// testClock is a settable time source shared by the services under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }
