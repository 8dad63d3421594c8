package authflow

import "errors"

var (
	// ErrBusy is returned when an attempt of the same kind is already in flight.
	// No transport call is made.
	ErrBusy = errors.New("an attempt of this kind is already in progress")

	// ErrStale is returned for an attempt whose response arrived after the flow
	// was cancelled, superseded or torn down by a session reset. Its result was discarded.
	ErrStale = errors.New("attempt was superseded")

	// ErrNoVerificationTicket is returned by verify and resend when no signup is awaiting verification.
	ErrNoVerificationTicket = errors.New("no email verification in progress")

	// ErrSocialUnavailable is returned when the controller has no social bridge.
	ErrSocialUnavailable = errors.New("social sign-in is not configured")

	// ErrUnexpectedCallback is returned when a provider callback arrives while
	// the social flow is not waiting for one.
	ErrUnexpectedCallback = errors.New("unexpected social callback")

	// ErrAlreadySignedIn is returned by Signup while a session is authenticated.
	// No transport call is made.
	ErrAlreadySignedIn = errors.New("already signed in")
)
