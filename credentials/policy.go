package credentials

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Policy enumerates every rule the Validator knows about. Zero values disable a rule,
// except where DefaultPolicy documents otherwise.
type Policy struct {
	// PasswordMinLength is the minimum number of characters (runes) in a password.
	PasswordMinLength int `yaml:"password_min_length"`

	// RequireNonAlpha demands at least one character that is not a letter.
	RequireNonAlpha bool `yaml:"require_non_alpha"`

	// RequireUpper demands at least one upper-case letter.
	RequireUpper bool `yaml:"require_upper"`

	// RequireLower demands at least one lower-case letter.
	RequireLower bool `yaml:"require_lower"`

	// RequireDigit demands at least one decimal digit.
	RequireDigit bool `yaml:"require_digit"`

	// EnforceMinLengthOnLogin applies PasswordMinLength to login passwords as well.
	// The composition rules only ever apply to new passwords.
	EnforceMinLengthOnLogin bool `yaml:"enforce_min_length_on_login"`

	// CodeLength is the exact number of digits in an email verification code.
	CodeLength int `yaml:"code_length"`

	// MaxEmailLength bounds the full address (RFC 5321 path limit is 254).
	MaxEmailLength int `yaml:"max_email_length"`
}

// DefaultPolicy returns the product defaults: 8 characters with at least one
// non-alphabetic character, 6 digit codes.
func DefaultPolicy() Policy {
	return Policy{
		PasswordMinLength:       8,
		RequireNonAlpha:         true,
		EnforceMinLengthOnLogin: true,
		CodeLength:              6,
		MaxEmailLength:          254,
	}
}

// LoadPolicy reads a YAML policy document. Keys missing from the document keep
// their DefaultPolicy values.
func LoadPolicy(r io.Reader) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return p, nil
		}
		return Policy{}, errors.Wrap(err, "[LoadPolicy] decode")
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects policies that could never accept any input.
func (p Policy) Validate() error {
	if p.PasswordMinLength < 0 {
		return errors.New("[Policy] password_min_length must not be negative")
	}
	if p.CodeLength <= 0 {
		return errors.New("[Policy] code_length must be positive")
	}
	if p.MaxEmailLength < 6 {
		return errors.New("[Policy] max_email_length must be at least 6")
	}
	return nil
}
