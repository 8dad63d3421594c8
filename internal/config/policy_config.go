package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/pkg/errors"
)

type Policy struct {
	credentials.Policy
}

var _ PolicyConfig = Policy{}

func (p Policy) GetPolicy() credentials.Policy {
	return p.Policy
}

type policyEnv struct {
	File              string `env:"AUTH_POLICY_FILE"`
	PasswordMinLength int    `env:"AUTH_PASSWORD_MIN_LENGTH"`
	CodeLength        int    `env:"AUTH_CODE_LENGTH"`
}

// loadPolicy starts from the defaults, applies the policy file if one is named
// and finally the individual env overrides.
func loadPolicy() (Policy, error) {
	var raw policyEnv
	if err := env.Parse(&raw); err != nil {
		return Policy{}, errors.Wrap(err, "[config.loadPolicy] parse env")
	}

	policy := credentials.DefaultPolicy()
	if raw.File != "" {
		f, err := os.Open(raw.File)
		if err != nil {
			return Policy{}, errors.Wrapf(err, "[config.loadPolicy] open %s", raw.File)
		}
		defer f.Close()
		if policy, err = credentials.LoadPolicy(f); err != nil {
			return Policy{}, errors.Wrapf(err, "[config.loadPolicy] load %s", raw.File)
		}
	}
	if raw.PasswordMinLength > 0 {
		policy.PasswordMinLength = raw.PasswordMinLength
	}
	if raw.CodeLength > 0 {
		policy.CodeLength = raw.CodeLength
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return Policy{Policy: policy}, nil
}
