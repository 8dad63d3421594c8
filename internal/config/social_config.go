package config

import (
	"time"

	"github.com/jrsteele09/go-auth-client/social"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const googleIssuer = "https://accounts.google.com"

type Social struct {
	StateTTL       time.Duration `env:"AUTH_SOCIAL_STATE_TTL" envDefault:"10m"`
	RedisURL       string        `env:"AUTH_SOCIAL_REDIS_URL"`
	RedisKeyPrefix string        `env:"AUTH_SOCIAL_REDIS_PREFIX" envDefault:"auth:social:state:"`

	GoogleClientID     string   `env:"AUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string   `env:"AUTH_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string   `env:"AUTH_GOOGLE_REDIRECT_URL"`
	GoogleScopes       []string `env:"AUTH_GOOGLE_SCOPES" envSeparator:","`

	GitHubClientID    string   `env:"AUTH_GITHUB_CLIENT_ID"`
	GitHubRedirectURL string   `env:"AUTH_GITHUB_REDIRECT_URL"`
	GitHubScopes      []string `env:"AUTH_GITHUB_SCOPES" envSeparator:","`
}

var _ SocialConfig = Social{}

// GetSocialProviders returns a provider for every client ID that is configured.
// Google goes through OIDC discovery and, when a secret is present, exchanges
// the code itself so the identity service receives a verified ID token. GitHub
// codes are forwarded as is.
func (s Social) GetSocialProviders() []social.ProviderConfig {
	var providers []social.ProviderConfig
	if s.GoogleClientID != "" {
		providers = append(providers, social.ProviderConfig{
			Name:         "google",
			Issuer:       googleIssuer,
			ResponseType: social.ResponseTypeCode,
			ExchangeCode: s.GoogleClientSecret != "",
			OAuth2: oauth2.Config{
				ClientID:     s.GoogleClientID,
				ClientSecret: s.GoogleClientSecret,
				RedirectURL:  s.GoogleRedirectURL,
				Scopes:       s.GoogleScopes,
			},
		})
	}
	if s.GitHubClientID != "" {
		providers = append(providers, social.ProviderConfig{
			Name:         "github",
			ResponseType: social.ResponseTypeCode,
			OAuth2: oauth2.Config{
				ClientID:    s.GitHubClientID,
				RedirectURL: s.GitHubRedirectURL,
				Scopes:      s.GitHubScopes,
				Endpoint:    endpoints.GitHub,
			},
		})
	}
	return providers
}

func (s Social) GetStateTTL() time.Duration {
	return s.StateTTL
}

func (s Social) GetRedisURL() string {
	return s.RedisURL
}

func (s Social) GetRedisKeyPrefix() string {
	return s.RedisKeyPrefix
}
