package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BradenHooton/marketauth/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrProviderResponse wraps every failure talking to an identity provider.
var ErrProviderResponse = errors.New("identity provider request failed")

// ExternalIdentity is a (provider, subject) pair plus optional profile data.
type ExternalIdentity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}

// Provider is the capability set the OAuth flow needs from one identity provider.
type Provider interface {
	Key() string
	Configured() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchIdentity(ctx context.Context, token *oauth2.Token) (*ExternalIdentity, error)
}

// ProviderCredentials are the client registration values for one provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// ProviderSpec describes the endpoints and profile shape of a provider.
type ProviderSpec struct {
	Key         string
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	// DecodeIdentity turns the user-info response body into an identity.
	DecodeIdentity func(body []byte) (*ExternalIdentity, error)
}

// OAuth2Provider implements Provider on top of golang.org/x/oauth2.
type OAuth2Provider struct {
	spec   ProviderSpec
	config *oauth2.Config
}

func NewOAuth2Provider(spec ProviderSpec, creds ProviderCredentials) *OAuth2Provider {
	return &OAuth2Provider{
		spec: spec,
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       creds.Scopes,
			Endpoint:     spec.Endpoint,
		},
	}
}

func (p *OAuth2Provider) Key() string { return p.spec.Key }

func (p *OAuth2Provider) Configured() bool {
	return p.config.ClientID != "" && p.config.ClientSecret != "" && p.config.RedirectURL != ""
}

func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for a provider access token.
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s token exchange: %v", ErrProviderResponse, p.spec.Key, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s token exchange returned no access token", ErrProviderResponse, p.spec.Key)
	}
	return token, nil
}

// FetchIdentity calls the provider's user-info endpoint with the access token.
func (p *OAuth2Provider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*ExternalIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.spec.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build %s profile request: %v", ErrProviderResponse, p.spec.Key, err)
	}

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s profile request: %v", ErrProviderResponse, p.spec.Key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s profile: %v", ErrProviderResponse, p.spec.Key, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s profile returned status %d", ErrProviderResponse, p.spec.Key, resp.StatusCode)
	}

	identity, err := p.spec.DecodeIdentity(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s profile: %v", ErrProviderResponse, p.spec.Key, err)
	}
	if strings.TrimSpace(identity.Subject) == "" {
		return nil, fmt.Errorf("%w: %s profile has no subject id", ErrProviderResponse, p.spec.Key)
	}

	identity.Provider = p.spec.Key
	return identity, nil
}

// GoogleSpec uses the OpenID Connect user-info endpoint.
func GoogleSpec() ProviderSpec {
	return ProviderSpec{
		Key:         models.ProviderGoogle,
		Endpoint:    google.Endpoint,
		UserInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		DecodeIdentity: func(body []byte) (*ExternalIdentity, error) {
			var profile struct {
				Sub   string `json:"sub"`
				Email string `json:"email"`
				Name  string `json:"name"`
			}
			if err := json.Unmarshal(body, &profile); err != nil {
				return nil, err
			}
			return &ExternalIdentity{Subject: profile.Sub, Email: profile.Email, DisplayName: profile.Name}, nil
		},
	}
}

// LineSpec uses LINE Login v2.1. The profile endpoint carries no email.
func LineSpec() ProviderSpec {
	return ProviderSpec{
		Key: models.ProviderLine,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://access.line.me/oauth2/v2.1/authorize",
			TokenURL:  "https://api.line.me/oauth2/v2.1/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: "https://api.line.me/v2/profile",
		DecodeIdentity: func(body []byte) (*ExternalIdentity, error) {
			var profile struct {
				UserID      string `json:"userId"`
				DisplayName string `json:"displayName"`
			}
			if err := json.Unmarshal(body, &profile); err != nil {
				return nil, err
			}
			return &ExternalIdentity{Subject: profile.UserID, DisplayName: profile.DisplayName}, nil
		},
	}
}

// ProviderRegistry resolves provider keys to providers.
type ProviderRegistry struct {
	providers map[string]Provider
}

func NewProviderRegistry(providers ...Provider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Key()] = p
	}
	return r
}

// Lookup returns a usable provider. An unknown key is a validation error and a
// registered provider without credentials is a configuration error.
func (r *ProviderRegistry) Lookup(key string) (Provider, error) {
	p, ok := r.providers[key]
	if !ok {
		return nil, models.NewValidationError("provider", fmt.Sprintf("unsupported provider %q", key))
	}
	if !p.Configured() {
		return nil, fmt.Errorf("%s login is not configured: %w", key, models.ErrConfiguration)
	}
	return p, nil
}
