package credentials

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyField      = errors.New("field is empty")
	ErrMalformedEmail  = errors.New("malformed email address")
	ErrPasswordTooWeak = errors.New("password too weak")
	ErrCodeWrongLength = errors.New("verification code has the wrong length")
	ErrCodeNotNumeric  = errors.New("verification code must be numeric")

	// ErrUnknownKind is a programming error, not a problem with the user's input.
	ErrUnknownKind = errors.New("unknown credential kind")
)

// ValidationError names the offending form field so a screen can highlight it.
// Reason is one of the sentinel errors above; Detail is an optional human hint.
type ValidationError struct {
	Field  string
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// IsValidationError reports whether err came from the Validator.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field string, reason error, detail string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Detail: detail}
}
