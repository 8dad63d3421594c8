package social

import "errors"

var (
	// ErrUserCancelled is returned when the user declined or abandoned consent at the provider.
	ErrUserCancelled = errors.New("social sign-in cancelled by user")

	// ErrProviderError is returned when the provider reported a failure or sent an unusable response.
	ErrProviderError = errors.New("social provider error")

	// ErrMismatchedState is returned when a callback's state (or ID token nonce) does
	// not match an outstanding redirect. The callback is treated as forged.
	ErrMismatchedState = errors.New("social callback state mismatch")

	// ErrUnknownProvider is returned for providers the bridge was not configured with.
	ErrUnknownProvider = errors.New("unknown social provider")
)

// Provider error codes that mean the user backed out rather than something breaking.
var cancelCodes = map[string]bool{
	"access_denied":        true,
	"user_cancelled":       true,
	"user_canceled":        true,
	"consent_required":     true,
	"user_cancelled_login": true,
}
