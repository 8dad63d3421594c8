package transport

import "errors"

// Errors reported by the identity service, shared by every Transport implementation.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotVerified = errors.New("account not verified")
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrCodeRejected       = errors.New("verification code rejected")
	ErrExpired            = errors.New("ticket or token expired")
	ErrRateLimited        = errors.New("rate limited")
	ErrNetwork            = errors.New("identity service unreachable")
)

// Wire codes used in identity service error bodies.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountNotVerified = "account_not_verified"
	CodeAccountExists      = "account_exists"
	CodeAccountNotFound    = "account_not_found"
	CodeCodeRejected       = "code_rejected"
	CodeExpired            = "expired"
	CodeRateLimited        = "rate_limited"
)

var codeErrors = map[string]error{
	CodeInvalidCredentials: ErrInvalidCredentials,
	CodeAccountNotVerified: ErrAccountNotVerified,
	CodeAccountExists:      ErrAccountExists,
	CodeAccountNotFound:    ErrAccountNotFound,
	CodeCodeRejected:       ErrCodeRejected,
	CodeExpired:            ErrExpired,
	CodeRateLimited:        ErrRateLimited,
}

// ErrorForCode maps a wire error code to its sentinel. Unknown codes map to nil.
func ErrorForCode(code string) error {
	return codeErrors[code]
}

// CodeForError maps a sentinel (anywhere in err's chain) back to its wire code.
func CodeForError(err error) (string, bool) {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code, true
		}
	}
	return "", false
}
