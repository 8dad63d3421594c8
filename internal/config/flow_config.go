package config

import (
	"time"

	"github.com/jrsteele09/go-auth-client/authflow"
)

type Flow struct {
	MaxVerifyAttempts int           `env:"AUTH_VERIFY_MAX_ATTEMPTS" envDefault:"5"`
	ResendCooldown    time.Duration `env:"AUTH_VERIFY_RESEND_COOLDOWN" envDefault:"60s"`
	VerificationTTL   time.Duration `env:"AUTH_VERIFY_TTL" envDefault:"15m"`
	ResetTTL          time.Duration `env:"AUTH_RESET_TTL" envDefault:"30m"`
	SessionTTL        time.Duration `env:"AUTH_SESSION_TTL" envDefault:"1h"`
}

var _ FlowConfig = Flow{}

// GetVerificationConfig leaves CodeLength unset; the code length belongs to the
// credential policy.
func (f Flow) GetVerificationConfig() authflow.VerificationConfig {
	return authflow.VerificationConfig{
		MaxAttempts:    f.MaxVerifyAttempts,
		ResendCooldown: f.ResendCooldown,
		TTL:            f.VerificationTTL,
	}
}

func (f Flow) GetResetTTL() time.Duration {
	return f.ResetTTL
}

func (f Flow) GetDefaultSessionTTL() time.Duration {
	return f.SessionTTL
}
