package authflow

import "time"

// Kind identifies one of the independent auth flows.
type Kind string

const (
	KindLogin          Kind = "login"
	KindSignup         Kind = "signup"
	KindVerifyEmail    Kind = "verify_email"
	KindForgotPassword Kind = "forgot_password"
	KindResetPassword  Kind = "reset_password"
	KindSocial         Kind = "social"
)

// Kinds lists every flow kind.
var Kinds = []Kind{KindLogin, KindSignup, KindVerifyEmail, KindForgotPassword, KindResetPassword, KindSocial}

// State is the position of a flow in its state machine.
//
//	login:           idle -> submitting -> authenticated | failed
//	signup:          idle -> submitting -> awaiting_verification | failed
//	verify_email:    awaiting_code -> checking -> verified | code_rejected | expired
//	forgot_password: idle -> submitting -> requested | failed
//	reset_password:  idle -> submitting -> reset | failed
//	social:          idle -> redirecting -> exchanging -> authenticated | failed
type State string

const (
	StateIdle                 State = "idle"
	StateSubmitting           State = "submitting"
	StateAuthenticated        State = "authenticated"
	StateFailed               State = "failed"
	StateAwaitingVerification State = "awaiting_verification"
	StateAwaitingCode         State = "awaiting_code"
	StateChecking             State = "checking"
	StateVerified             State = "verified"
	StateCodeRejected         State = "code_rejected"
	StateExpired              State = "expired"
	StateRequested            State = "requested"
	StateReset                State = "reset"
	StateRedirecting          State = "redirecting"
	StateExchanging           State = "exchanging"
)

// Status is a snapshot of one flow. Err holds the most recent failure,
// including local validation failures that never reached the transport.
// Attempt increases with every submission and every cancellation.
type Status struct {
	Kind    Kind
	State   State
	Err     error
	Attempt uint64
}

// VerificationTicket tracks the email verification challenge issued on signup.
type VerificationTicket struct {
	UserID            string
	CodeLength        int
	ExpiresAt         time.Time
	AttemptsRemaining int
	ResendAvailableAt time.Time

	attemptsAllowed int    // restored by a successful resend
	generation      uint64 // session generation of the signup that issued it
}

// PasswordResetTicket tracks a password reset request. Token is attached when
// the reset link is opened and is only forwarded, never inspected.
type PasswordResetTicket struct {
	Token       string
	RequestedAt time.Time
	ExpiresAt   time.Time

	generation uint64
}

// flow is the controller's record of one Kind.
type flow struct {
	state      State
	err        error
	seq        uint64
	inFlight   bool
	generation uint64 // session generation captured by the latest attempt
}

// attempt identifies one submission: it may only commit while its sequence
// number is current and the session generation it captured is unchanged.
type attempt struct {
	kind       Kind
	seq        uint64
	generation uint64
}
