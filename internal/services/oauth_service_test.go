package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/models"
	pkglogger "github.com/BradenHooton/marketauth/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newOAuthService(f *serviceFixture, providers ...auth.Provider) *OAuthService {
	logger := newTestLogger()
	return NewOAuthService(
		f.repo,
		auth.NewProviderRegistry(providers...),
		f.tm,
		f.states,
		time.Second,
		logger,
		pkglogger.NewAuditLogger(logger),
	)
}

// identityProvider returns subject for every code it is handed.
func identityProvider(key, subject, displayName string) *MockProvider {
	return &MockProvider{
		KeyValue: key,
		FetchIdentityFunc: func(ctx context.Context, token *oauth2.Token) (*auth.ExternalIdentity, error) {
			return &auth.ExternalIdentity{Provider: key, Subject: subject, DisplayName: displayName}, nil
		},
	}
}

func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

// ============================================================================
// Init
// ============================================================================

func TestOAuthService_InitLogin_UnknownProvider(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U1", ""))

	_, err := svc.InitLogin(context.Background(), "facebook")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "provider", verr.Field)
}

func TestOAuthService_InitLogin_UnconfiguredProvider(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, &MockProvider{KeyValue: models.ProviderGoogle, Unconfigured: true})

	_, err := svc.InitLogin(context.Background(), models.ProviderGoogle)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestOAuthService_InitLink_RequiresUser(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U1", ""))

	_, err := svc.InitLink(context.Background(), models.ProviderLine, "")
	assert.Equal(t, models.ErrUnauthorized, err)
}

func TestOAuthService_InitLogin_RegistersNonce(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U1", ""))

	authURL, err := svc.InitLogin(context.Background(), models.ProviderLine)
	require.NoError(t, err)
	assert.Equal(t, 1, f.states.Len())

	claims, err := f.tm.ValidateStateToken(stateFromURL(t, authURL), models.StatePurposeLogin, models.ProviderLine)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.Nonce)
}

// ============================================================================
// Login callback
// ============================================================================

func TestOAuthService_LoginCallback_CreatesAccountOnce(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U4af4980629", "Lin"))
	ctx := context.Background()

	authURL, err := svc.InitLogin(ctx, models.ProviderLine)
	require.NoError(t, err)
	first, err := svc.HandleLoginCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code-1", "")
	require.NoError(t, err)

	assert.Equal(t, "line_U4af4980", first.User.Username)
	assert.Equal(t, "Lin", first.User.DisplayName)
	assert.Equal(t, []string{models.ProviderLine}, first.User.LinkedProviders)
	assert.False(t, first.User.HasPassword)

	authURL, err = svc.InitLogin(ctx, models.ProviderLine)
	require.NoError(t, err)
	second, err := svc.HandleLoginCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code-2", "")
	require.NoError(t, err)

	assert.Equal(t, first.User.ID, second.User.ID)
	claims, err := f.tm.ValidateSessionToken(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, claims.UserID)
}

func TestOAuthService_LoginCallback_UsernameCollisionGetsSuffix(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "google_10769150", nil)
	svc := newOAuthService(f, identityProvider(models.ProviderGoogle, "107691503334", ""))
	ctx := context.Background()

	authURL, err := svc.InitLogin(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	resp, err := svc.HandleLoginCallback(ctx, models.ProviderGoogle, stateFromURL(t, authURL), "code", "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.User.Username, "google_10769150_"))
	assert.Len(t, resp.User.Username, len("google_10769150_")+6)
}

func TestOAuthService_LoginCallback_StateIsSingleUse(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U1", ""))
	ctx := context.Background()

	authURL, err := svc.InitLogin(ctx, models.ProviderLine)
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	_, err = svc.HandleLoginCallback(ctx, models.ProviderLine, state, "code", "")
	require.NoError(t, err)

	_, err = svc.HandleLoginCallback(ctx, models.ProviderLine, state, "code", "")
	assert.True(t, errors.Is(err, models.ErrProvider))
}

func TestOAuthService_LoginCallback_RejectsBadState(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f,
		identityProvider(models.ProviderLine, "U1", ""),
		identityProvider(models.ProviderGoogle, "G1", ""),
	)
	ctx := context.Background()

	lineURL, err := svc.InitLogin(ctx, models.ProviderLine)
	require.NoError(t, err)
	linkURL, err := svc.InitLink(ctx, models.ProviderLine, "user-1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		provider string
		state    string
	}{
		{name: "garbage", provider: models.ProviderLine, state: "not-a-state"},
		{name: "other provider", provider: models.ProviderGoogle, state: stateFromURL(t, lineURL)},
		{name: "link state", provider: models.ProviderLine, state: stateFromURL(t, linkURL)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.HandleLoginCallback(ctx, tt.provider, tt.state, "code", "")
			assert.True(t, errors.Is(err, models.ErrProvider))
		})
	}
}

func TestOAuthService_LoginCallback_ExpiredState(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U1", ""))
	ctx := context.Background()

	authURL, err := svc.InitLogin(ctx, models.ProviderLine)
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)

	_, err = svc.HandleLoginCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code", "")
	assert.True(t, errors.Is(err, models.ErrProvider))
}

func TestOAuthService_LoginCallback_MissingCode(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U1", ""))
	ctx := context.Background()

	authURL, err := svc.InitLogin(ctx, models.ProviderLine)
	require.NoError(t, err)

	_, err = svc.HandleLoginCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "", "")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "code", verr.Field)
}

func TestOAuthService_LoginCallback_ProviderFailures(t *testing.T) {
	tests := []struct {
		name     string
		provider *MockProvider
	}{
		{
			name: "exchange rejected",
			provider: &MockProvider{
				KeyValue: models.ProviderLine,
				ExchangeFunc: func(ctx context.Context, code string) (*oauth2.Token, error) {
					return nil, auth.ErrProviderResponse
				},
			},
		},
		{
			name: "profile unavailable",
			provider: &MockProvider{
				KeyValue: models.ProviderLine,
				FetchIdentityFunc: func(ctx context.Context, token *oauth2.Token) (*auth.ExternalIdentity, error) {
					return nil, auth.ErrProviderResponse
				},
			},
		},
		{
			name: "exchange hangs past the deadline",
			provider: &MockProvider{
				KeyValue: models.ProviderLine,
				ExchangeFunc: func(ctx context.Context, code string) (*oauth2.Token, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			svc := newOAuthService(f, tt.provider)
			svc.exchangeTimeout = 20 * time.Millisecond
			ctx := context.Background()

			authURL, err := svc.InitLogin(ctx, models.ProviderLine)
			require.NoError(t, err)

			_, err = svc.HandleLoginCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code", "")
			assert.True(t, errors.Is(err, models.ErrProvider))
		})
	}
}

func TestOAuthService_LoginCallback_ConcurrentFirstLoginsShareAccount(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "Uconcurrent", ""))
	ctx := context.Background()

	const n = 8
	states := make([]string, n)
	for i := range states {
		authURL, err := svc.InitLogin(ctx, models.ProviderLine)
		require.NoError(t, err)
		states[i] = stateFromURL(t, authURL)
	}

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.HandleLoginCallback(ctx, models.ProviderLine, states[i], "code", "")
			if assert.NoError(t, err) {
				ids[i] = resp.User.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

// ============================================================================
// Link callback
// ============================================================================

func TestOAuthService_LinkCallback_BindsIdentity(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "alice", nil)
	svc := newOAuthService(f, identityProvider(models.ProviderGoogle, "g-alice", ""))
	ctx := context.Background()

	authURL, err := svc.InitLink(ctx, models.ProviderGoogle, user.ID)
	require.NoError(t, err)
	result, err := svc.HandleLinkCallback(ctx, models.ProviderGoogle, stateFromURL(t, authURL), "code", "")
	require.NoError(t, err)

	assert.True(t, result.Linked)
	assert.Equal(t, models.ProviderGoogle, result.Provider)
	assert.Equal(t, []string{models.ProviderGoogle}, result.User.LinkedProviders)

	owner, err := f.store.GetByProviderID(ctx, models.ProviderGoogle, "g-alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, owner.ID)
}

func TestOAuthService_LinkCallback_IdentityOwnedByAnotherUser(t *testing.T) {
	f := newServiceFixture(t)
	alice := f.seedUser(t, "alice", nil)
	bob := f.seedUser(t, "bob", nil)
	require.NoError(t, f.store.LinkProvider(context.Background(), bob.ID, models.ProviderLine, "U-shared"))
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U-shared", ""))
	ctx := context.Background()

	authURL, err := svc.InitLink(ctx, models.ProviderLine, alice.ID)
	require.NoError(t, err)
	_, err = svc.HandleLinkCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code", "")
	assert.True(t, errors.Is(err, models.ErrConflict))

	stored, err := f.store.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LineID)
	owner, err := f.store.GetByProviderID(ctx, models.ProviderLine, "U-shared")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, owner.ID)
}

func TestOAuthService_LinkCallback_RaceLostAtWriteIsConflict(t *testing.T) {
	f := newServiceFixture(t)
	alice := f.seedUser(t, "alice", nil)
	f.repo.LinkProviderFunc = func(ctx context.Context, id, provider, externalID string) error {
		return models.ErrConflict
	}
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U-race", ""))
	ctx := context.Background()

	authURL, err := svc.InitLink(ctx, models.ProviderLine, alice.ID)
	require.NoError(t, err)
	_, err = svc.HandleLinkCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code", "")
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestOAuthService_LinkCallback_AlreadyLinkedToSelf(t *testing.T) {
	f := newServiceFixture(t)
	alice := f.seedUser(t, "alice", nil)
	require.NoError(t, f.store.LinkProvider(context.Background(), alice.ID, models.ProviderLine, "U-alice"))
	f.repo.LinkProviderFunc = func(ctx context.Context, id, provider, externalID string) error {
		t.Fatal("existing link must not be rewritten")
		return nil
	}
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U-alice", ""))
	ctx := context.Background()

	authURL, err := svc.InitLink(ctx, models.ProviderLine, alice.ID)
	require.NoError(t, err)
	result, err := svc.HandleLinkCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code", "")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, result.User.ID)
}

func TestOAuthService_LinkCallback_SecondIdentityOfSameProviderRejected(t *testing.T) {
	f := newServiceFixture(t)
	alice := f.seedUser(t, "alice", nil)
	require.NoError(t, f.store.LinkProvider(context.Background(), alice.ID, models.ProviderGoogle, "g-first"))
	f.repo.LinkProviderFunc = func(ctx context.Context, id, provider, externalID string) error {
		t.Fatal("linked slot must not be rewritten")
		return nil
	}
	svc := newOAuthService(f, identityProvider(models.ProviderGoogle, "g-second", ""))
	ctx := context.Background()

	authURL, err := svc.InitLink(ctx, models.ProviderGoogle, alice.ID)
	require.NoError(t, err)
	_, err = svc.HandleLinkCallback(ctx, models.ProviderGoogle, stateFromURL(t, authURL), "code", "")
	assert.ErrorIs(t, err, models.ErrConflict)

	stored, err := f.store.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.GoogleID)
	assert.Equal(t, "g-first", *stored.GoogleID)
	_, err = f.store.GetByProviderID(ctx, models.ProviderGoogle, "g-second")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOAuthService_LinkCallback_UserGone(t *testing.T) {
	f := newServiceFixture(t)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U1", ""))
	ctx := context.Background()

	authURL, err := svc.InitLink(ctx, models.ProviderLine, "deleted-user")
	require.NoError(t, err)
	_, err = svc.HandleLinkCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code", "")
	assert.Equal(t, models.ErrUnauthorized, err)
}

func TestOAuthService_LinkCallback_RejectsLoginState(t *testing.T) {
	f := newServiceFixture(t)
	alice := f.seedUser(t, "alice", nil)
	svc := newOAuthService(f, identityProvider(models.ProviderLine, "U1", ""))
	ctx := context.Background()

	authURL, err := svc.InitLogin(ctx, models.ProviderLine)
	require.NoError(t, err)
	_, err = svc.HandleLinkCallback(ctx, models.ProviderLine, stateFromURL(t, authURL), "code", "")
	assert.True(t, errors.Is(err, models.ErrProvider))

	stored, err := f.store.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LineID)
}

func TestGeneratedUsername(t *testing.T) {
	tests := []struct {
		provider string
		subject  string
		want     string
	}{
		{models.ProviderLine, "U4af4980629abcdef", "line_U4af4980"},
		{models.ProviderGoogle, "1076", "google_1076"},
		{models.ProviderGoogle, "a-b.c@d:e|f_g/h", "google_abcdef_g"},
		{models.ProviderLine, "----", "line_user"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, generatedUsername(tt.provider, tt.subject), tt.subject)
	}
}
