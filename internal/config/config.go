package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jrsteele09/go-auth-client/authflow"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/social"
	"github.com/pkg/errors"
)

type Config interface {
	EnvConfig
	PolicyConfig
	FlowConfig
	SocialConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetServiceURL() string
	GetRequestTimeout() time.Duration
}

type PolicyConfig interface {
	GetPolicy() credentials.Policy
}

type FlowConfig interface {
	GetVerificationConfig() authflow.VerificationConfig
	GetResetTTL() time.Duration
	GetDefaultSessionTTL() time.Duration
}

type SocialConfig interface {
	GetSocialProviders() []social.ProviderConfig
	GetStateTTL() time.Duration
	GetRedisURL() string
	GetRedisKeyPrefix() string
}

type mainConfig struct {
	EnvVars
	Policy
	Flow
	Social
}

// New reads the configuration from the environment. A policy file named by
// AUTH_POLICY_FILE is loaded on top of the credential defaults.
func New() (Config, error) {
	cfg := mainConfig{}
	if err := env.Parse(&cfg.EnvVars); err != nil {
		return nil, errors.Wrap(err, "[config.New] parse env vars")
	}
	if err := env.Parse(&cfg.Flow); err != nil {
		return nil, errors.Wrap(err, "[config.New] parse flow settings")
	}
	if err := env.Parse(&cfg.Social); err != nil {
		return nil, errors.Wrap(err, "[config.New] parse social settings")
	}
	policy, err := loadPolicy()
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	return cfg, nil
}
