package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ProviderConfig holds client credentials for one external identity provider.
// A provider with missing credentials is still registered so callers get a
// configuration error instead of an unknown-provider error.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Configured reports whether every credential needed for a code exchange is present.
func (p ProviderConfig) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != "" && p.RedirectURL != ""
}

type OAuthConfig struct {
	Providers       map[string]ProviderConfig
	ExchangeTimeout time.Duration
}

type oauthEnv struct {
	LineChannelID      string        `env:"LINE_CHANNEL_ID"`
	LineChannelSecret  string        `env:"LINE_CHANNEL_SECRET"`
	LineRedirectURI    string        `env:"LINE_REDIRECT_URI"`
	LineScopes         []string      `env:"LINE_SCOPES" envSeparator:"," envDefault:"profile,openid"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string        `env:"GOOGLE_REDIRECT_URI"`
	GoogleScopes       []string      `env:"GOOGLE_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`
	ExchangeTimeout    time.Duration `env:"OAUTH_EXCHANGE_TIMEOUT" envDefault:"10s"`
}

// LoadOAuth reads the provider block from the environment.
func LoadOAuth() (OAuthConfig, error) {
	var raw oauthEnv
	if err := env.Parse(&raw); err != nil {
		return OAuthConfig{}, fmt.Errorf("parse oauth config: %w", err)
	}

	if raw.ExchangeTimeout <= 0 {
		return OAuthConfig{}, fmt.Errorf("OAUTH_EXCHANGE_TIMEOUT must be positive")
	}

	return OAuthConfig{
		Providers: map[string]ProviderConfig{
			"line": {
				ClientID:     raw.LineChannelID,
				ClientSecret: raw.LineChannelSecret,
				RedirectURL:  raw.LineRedirectURI,
				Scopes:       trimList(raw.LineScopes),
			},
			"google": {
				ClientID:     raw.GoogleClientID,
				ClientSecret: raw.GoogleClientSecret,
				RedirectURL:  raw.GoogleRedirectURI,
				Scopes:       trimList(raw.GoogleScopes),
			},
		},
		ExchangeTimeout: raw.ExchangeTimeout,
	}, nil
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
