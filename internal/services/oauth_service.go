package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/models"
	pkglogger "github.com/BradenHooton/marketauth/pkg/logger"
)

const (
	generatedNameSubjectLen = 8
	maxUsernameAttempts     = 5
)

// OAuthService coordinates third-party login and identity linking
type OAuthService struct {
	users           UserRepository
	providers       *auth.ProviderRegistry
	tm              *auth.TokenManager
	states          auth.ChallengeStore
	exchangeTimeout time.Duration
	logger          *slog.Logger
	auditLogger     *pkglogger.AuditLogger
}

// NewOAuthService creates a new OAuthService. states holds the single-use
// nonce of every outstanding state token.
func NewOAuthService(
	users UserRepository,
	providers *auth.ProviderRegistry,
	tm *auth.TokenManager,
	states auth.ChallengeStore,
	exchangeTimeout time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *OAuthService {
	return &OAuthService{
		users:           users,
		providers:       providers,
		tm:              tm,
		states:          states,
		exchangeTimeout: exchangeTimeout,
		logger:          logger,
		auditLogger:     auditLogger,
	}
}

// InitLogin returns the provider authorization URL for a login flow.
func (s *OAuthService) InitLogin(ctx context.Context, provider string) (string, error) {
	return s.authorizationURL(ctx, models.StatePurposeLogin, provider, "")
}

// InitLink returns the provider authorization URL for binding an identity to userID.
func (s *OAuthService) InitLink(ctx context.Context, provider, userID string) (string, error) {
	if userID == "" {
		return "", models.ErrUnauthorized
	}
	return s.authorizationURL(ctx, models.StatePurposeLink, provider, userID)
}

func (s *OAuthService) authorizationURL(ctx context.Context, purpose, provider, userID string) (string, error) {
	p, err := s.providers.Lookup(provider)
	if err != nil {
		return "", err
	}

	state, nonce, err := s.tm.GenerateStateToken(purpose, provider, userID)
	if err != nil {
		s.logger.Error("failed to sign state token", slog.String("provider", provider), slog.Any("error", err))
		if errors.Is(err, models.ErrConfiguration) {
			return "", models.ErrConfiguration
		}
		return "", models.ErrInternalServer
	}

	if err := s.states.Put(ctx, nonce, purpose, s.tm.StateTTL()); err != nil {
		s.logger.Error("failed to store state nonce", slog.String("provider", provider), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	return p.AuthCodeURL(state), nil
}

// consumeState verifies the state token and burns its nonce so it cannot be replayed.
func (s *OAuthService) consumeState(ctx context.Context, state, purpose, provider string) (*models.StateClaims, error) {
	claims, err := s.tm.ValidateStateToken(state, purpose, provider)
	if err != nil {
		s.logger.Info("rejected oauth state", slog.String("provider", provider), slog.Any("error", err))
		return nil, fmt.Errorf("%w: invalid or expired state", models.ErrProvider)
	}

	stored, err := s.states.Consume(ctx, claims.Nonce)
	if err != nil {
		if errors.Is(err, auth.ErrChallengeNotFound) {
			return nil, fmt.Errorf("%w: invalid or expired state", models.ErrProvider)
		}
		s.logger.Error("failed to consume state nonce", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if stored != purpose {
		return nil, fmt.Errorf("%w: invalid or expired state", models.ErrProvider)
	}

	return claims, nil
}

// resolveIdentity runs the code exchange and profile fetch under one deadline.
func (s *OAuthService) resolveIdentity(ctx context.Context, p auth.Provider, code string) (*auth.ExternalIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return nil, models.NewValidationError("code", "authorization code is required")
	}

	if s.exchangeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.exchangeTimeout)
		defer cancel()
	}

	token, err := p.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("provider code exchange failed", slog.String("provider", p.Key()), slog.Any("error", err))
		return nil, fmt.Errorf("%w: code exchange failed", models.ErrProvider)
	}

	identity, err := p.FetchIdentity(ctx, token)
	if err != nil {
		s.logger.Warn("provider profile fetch failed", slog.String("provider", p.Key()), slog.Any("error", err))
		return nil, fmt.Errorf("%w: profile fetch failed", models.ErrProvider)
	}

	return identity, nil
}

// HandleLoginCallback completes a login flow. The account bound to the
// external identity is logged in; an unknown identity gets a new account.
func (s *OAuthService) HandleLoginCallback(ctx context.Context, provider, state, code, ip string) (*AuthResponse, error) {
	p, err := s.providers.Lookup(provider)
	if err != nil {
		return nil, err
	}

	if _, err := s.consumeState(ctx, state, models.StatePurposeLogin, provider); err != nil {
		return nil, err
	}

	identity, err := s.resolveIdentity(ctx, p, code)
	if err != nil {
		return nil, err
	}

	user, created, err := s.findOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}

	resp, err := issueSession(ctx, s.tm, s.users, user)
	if err != nil {
		s.logger.Error("failed to issue session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("oauth login", slog.String("user_id", user.ID), slog.String("provider", provider), slog.Bool("created", created))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventOAuthLogin,
		UserID:    user.ID,
		Provider:  provider,
		IPAddress: ip,
		Success:   true,
		Metadata:  map[string]string{"account_created": fmt.Sprint(created)},
	})

	return resp, nil
}

func (s *OAuthService) findOrCreate(ctx context.Context, identity *auth.ExternalIdentity) (*models.User, bool, error) {
	user, err := s.users.GetByProviderID(ctx, identity.Provider, identity.Subject)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up provider identity", slog.String("provider", identity.Provider), slog.Any("error", err))
		return nil, false, models.ErrInternalServer
	}

	base := generatedUsername(identity.Provider, identity.Subject)
	displayName := strings.TrimSpace(identity.DisplayName)
	if displayName == "" {
		displayName = base
	}

	username := base
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		user, err = s.users.Create(ctx, &models.NewUser{
			Username:    username,
			DisplayName: displayName,
			Role:        models.RoleCustomer,
			Provider:    identity.Provider,
			ExternalID:  identity.Subject,
		})
		if err == nil {
			return user, true, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			s.logger.Error("failed to create oauth user", slog.String("provider", identity.Provider), slog.Any("error", err))
			return nil, false, models.ErrInternalServer
		}

		// A concurrent callback for the same identity may have won the insert.
		if existing, lookupErr := s.users.GetByProviderID(ctx, identity.Provider, identity.Subject); lookupErr == nil {
			return existing, false, nil
		}

		suffix, sufErr := randomSuffix()
		if sufErr != nil {
			s.logger.Error("failed to generate username suffix", slog.Any("error", sufErr))
			return nil, false, models.ErrInternalServer
		}
		username = base + "_" + suffix
	}

	s.logger.Error("exhausted generated usernames", slog.String("provider", identity.Provider))
	return nil, false, models.ErrConflict
}

// HandleLinkCallback binds the external identity to the account that started the flow.
func (s *OAuthService) HandleLinkCallback(ctx context.Context, provider, state, code, ip string) (*LinkResult, error) {
	p, err := s.providers.Lookup(provider)
	if err != nil {
		return nil, err
	}

	claims, err := s.consumeState(ctx, state, models.StatePurposeLink, provider)
	if err != nil {
		return nil, err
	}

	identity, err := s.resolveIdentity(ctx, p, code)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	owner, err := s.users.GetByProviderID(ctx, provider, identity.Subject)
	switch {
	case err == nil && owner.ID != user.ID:
		s.linkRejected(ctx, user.ID, provider, ip, "identity_bound_elsewhere")
		return nil, fmt.Errorf("%w: %s account is linked to another user", models.ErrConflict, provider)
	case err == nil:
		return s.linkResult(ctx, provider, owner)
	case !errors.Is(err, models.ErrNotFound):
		s.logger.Error("failed to look up provider identity", slog.String("provider", provider), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.ProviderID(provider) != nil {
		s.linkRejected(ctx, user.ID, provider, ip, "slot_already_linked")
		return nil, fmt.Errorf("%w: a different %s account is already linked", models.ErrConflict, provider)
	}

	if err := s.users.LinkProvider(ctx, user.ID, provider, identity.Subject); err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			s.linkRejected(ctx, user.ID, provider, ip, "identity_bound_elsewhere")
			return nil, fmt.Errorf("%w: %s account is linked to another user", models.ErrConflict, provider)
		case errors.Is(err, models.ErrNotFound):
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to link provider", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	linked, err := s.users.GetByID(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to reload user", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("provider linked", slog.String("user_id", user.ID), slog.String("provider", provider))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventOAuthLink,
		UserID:    user.ID,
		Provider:  provider,
		IPAddress: ip,
		Success:   true,
	})

	return s.linkResult(ctx, provider, linked)
}

func (s *OAuthService) linkRejected(ctx context.Context, userID, provider, ip, reason string) {
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventOAuthLink,
		UserID:        userID,
		Provider:      provider,
		IPAddress:     ip,
		FailureReason: reason,
	})
}

func (s *OAuthService) linkResult(ctx context.Context, provider string, user *models.User) (*LinkResult, error) {
	profile, err := profileResponse(ctx, s.users, user)
	if err != nil {
		s.logger.Error("failed to load profile", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return &LinkResult{Provider: provider, Linked: true, User: profile}, nil
}

// generatedUsername derives <provider>_<first 8 characters of subject>,
// keeping only characters a username may hold.
func generatedUsername(provider, subject string) string {
	var b strings.Builder
	for _, r := range subject {
		if b.Len() >= generatedNameSubjectLen {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		b.WriteString("user")
	}
	return provider + "_" + b.String()
}

func randomSuffix() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
