package httptransport

import "time"

// Request and response bodies exchanged with the identity service. They are
// exported so that servers (see transportfake) speak exactly the same shapes.

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type VerifyEmailRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

type ResendRequest struct {
	UserID string `json:"user_id"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type SocialExchangeRequest struct {
	Provider      string `json:"provider"`
	ProviderToken string `json:"provider_token"`
}

// SessionResponse is returned by login and social exchange. Expiry is taken
// from ExpiresAt, then ExpiresIn, then the access token's exp claim.
type SessionResponse struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type,omitempty"`
	ExpiresIn   int64      `json:"expires_in,omitempty"` // Seconds
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type SignupResponse struct {
	UserID            string     `json:"user_id"`
	CodeLength        int        `json:"code_length,omitempty"`
	AttemptsAllowed   int        `json:"attempts_allowed,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	ResendAvailableAt *time.Time `json:"resend_available_at,omitempty"`
}

type VerifyResponse struct {
	Verified    bool       `json:"verified"`
	AccessToken string     `json:"access_token,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type ResendResponse struct {
	ResendAvailableAt *time.Time `json:"resend_available_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

type ForgotPasswordResponse struct {
	Accepted bool `json:"accepted"`
}

type ResetPasswordResponse struct {
	Reset bool `json:"reset"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// TimePtr returns nil for the zero time so optional fields are omitted.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
