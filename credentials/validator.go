package credentials

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Kind selects the rule set applied to a raw form value.
type Kind string

const (
	KindEmail       Kind = "email"
	KindPassword    Kind = "password"     // password typed on the login screen
	KindNewPassword Kind = "new_password" // password chosen on signup or reset
	KindCode        Kind = "code"
	KindToken       Kind = "token"
)

// field maps a kind to the form field name reported in a ValidationError.
func (k Kind) field() string {
	switch k {
	case KindNewPassword:
		return "password"
	default:
		return string(k)
	}
}

// Credential is a value that passed validation. Value is the form used for
// comparison and transport; Display is what the user typed, trimmed.
type Credential struct {
	Kind    Kind
	Value   string
	Display string
}

// Validator applies a Policy to raw form input. It performs no I/O and is safe
// for concurrent use.
type Validator struct {
	policy Policy
}

// NewValidator creates a Validator for the given policy
func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate checks raw against the rules for kind and returns the normalised credential.
func (v *Validator) Validate(kind Kind, raw string) (Credential, error) {
	switch kind {
	case KindEmail:
		return v.validateEmail(raw)
	case KindPassword:
		return v.validatePassword(raw, false)
	case KindNewPassword:
		return v.validatePassword(raw, true)
	case KindCode:
		return v.ValidateCode(raw, v.policy.CodeLength)
	case KindToken:
		token := strings.TrimSpace(raw)
		if token == "" {
			return Credential{}, invalid(kind.field(), ErrEmptyField, "")
		}
		return Credential{Kind: kind, Value: token, Display: token}, nil
	}
	return Credential{}, errors.Wrapf(ErrUnknownKind, "[Validator.Validate] %q", string(kind))
}

// ValidateCode checks a verification code against an explicit length, used when
// the server issued a ticket whose code length differs from the policy default.
func (v *Validator) ValidateCode(raw string, length int) (Credential, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return Credential{}, invalid(KindCode.field(), ErrEmptyField, "")
	}
	if len(code) != length {
		return Credential{}, invalid(KindCode.field(), ErrCodeWrongLength, "")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return Credential{}, invalid(KindCode.field(), ErrCodeNotNumeric, "")
		}
	}
	return Credential{Kind: KindCode, Value: code, Display: code}, nil
}

func (v *Validator) validateEmail(raw string) (Credential, error) {
	display := norm.NFC.String(strings.TrimSpace(raw))
	if display == "" {
		return Credential{}, invalid(KindEmail.field(), ErrEmptyField, "")
	}
	if v.policy.MaxEmailLength > 0 && len(display) > v.policy.MaxEmailLength {
		return Credential{}, invalid(KindEmail.field(), ErrMalformedEmail, "too long")
	}
	if !emailShaped(display) {
		return Credential{}, invalid(KindEmail.field(), ErrMalformedEmail, "")
	}
	return Credential{Kind: KindEmail, Value: strings.ToLower(display), Display: display}, nil
}

func (v *Validator) validatePassword(raw string, isNew bool) (Credential, error) {
	kind := KindPassword
	if isNew {
		kind = KindNewPassword
	}
	// Passwords are not trimmed: leading or trailing spaces may be intentional.
	password := norm.NFC.String(raw)
	if password == "" {
		return Credential{}, invalid(kind.field(), ErrEmptyField, "")
	}

	length := utf8.RuneCountInString(password)
	if (isNew || v.policy.EnforceMinLengthOnLogin) && length < v.policy.PasswordMinLength {
		return Credential{}, invalid(kind.field(), ErrPasswordTooWeak, "too short")
	}
	if isNew {
		if detail := v.compositionFailure(password); detail != "" {
			return Credential{}, invalid(kind.field(), ErrPasswordTooWeak, detail)
		}
	}
	return Credential{Kind: kind, Value: password}, nil
}

func (v *Validator) compositionFailure(password string) string {
	var hasNonAlpha, hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
		if !unicode.IsLetter(r) {
			hasNonAlpha = true
		}
	}

	switch {
	case v.policy.RequireNonAlpha && !hasNonAlpha:
		return "needs a non-alphabetic character"
	case v.policy.RequireUpper && !hasUpper:
		return "needs an upper-case letter"
	case v.policy.RequireLower && !hasLower:
		return "needs a lower-case letter"
	case v.policy.RequireDigit && !hasDigit:
		return "needs a digit"
	}
	return ""
}

// emailShaped accepts a single bare address with a dotted, hostname-shaped domain.
// It deliberately rejects display names ("Ann <a@b.com>") and quoted local parts.
func emailShaped(address string) bool {
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address || parsed.Name != "" {
		return false
	}

	at := strings.LastIndexByte(address, '@')
	local, domain := address[:at], address[at+1:]
	if local == "" || len(local) > 64 {
		return false
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !hostLabel(label) {
			return false
		}
	}
	tld := labels[len(labels)-1]
	return len(tld) >= 2 && strings.IndexFunc(tld, unicode.IsLetter) >= 0
}

func hostLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		if r != '-' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
