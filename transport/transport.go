// Package transport defines the contract between the auth flow controller and
// the remote identity service. Implementations live in sub-packages:
// httptransport talks to the real service, transportfake is an in-memory
// service for development and tests.
package transport

import (
	"context"
	"time"
)

// Transport is the typed request/response boundary to the identity service.
// Every method may return ErrNetwork when the service is unreachable or times out.
type Transport interface {
	Login(ctx context.Context, email, password string) (LoginResult, error)
	Signup(ctx context.Context, email, password string) (SignupResult, error)
	VerifyEmail(ctx context.Context, userID, code string) (VerifyResult, error)
	ResendVerification(ctx context.Context, userID string) (ResendResult, error)
	RequestPasswordReset(ctx context.Context, email string) (ResetRequestResult, error)
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) (ResetConfirmResult, error)
	ExchangeSocialCredential(ctx context.Context, provider, providerToken string) (LoginResult, error)
}

// LoginResult is returned by Login and ExchangeSocialCredential.
type LoginResult struct {
	UserID      string
	DisplayName string    // Optional, e.g. the provider profile name
	AccessToken string    // Bearer token for the product APIs; never logged
	ExpiresAt   time.Time // When the session must be considered expired
}

// VerificationGrant describes the email verification challenge created on signup.
// Zero fields fall back to the client's configured defaults.
type VerificationGrant struct {
	CodeLength        int
	ExpiresAt         time.Time
	AttemptsAllowed   int
	ResendAvailableAt time.Time
}

// SignupResult is returned by Signup.
type SignupResult struct {
	UserID       string
	Verification VerificationGrant
}

// VerifyResult is returned by VerifyEmail. ExpiresAt is the expiry of the
// session that verification establishes.
type VerifyResult struct {
	Verified  bool
	ExpiresAt time.Time
}

// ResendResult is returned by ResendVerification.
type ResendResult struct {
	ResendAvailableAt time.Time
	ExpiresAt         time.Time
}

// ResetRequestResult is returned by RequestPasswordReset. A well-behaved
// service always reports Accepted to avoid leaking account existence.
type ResetRequestResult struct {
	Accepted bool
}

// ResetConfirmResult is returned by ConfirmPasswordReset.
type ResetConfirmResult struct {
	Reset bool
}
