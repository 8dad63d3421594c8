package authflow

import (
	"context"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
)

// RequestPasswordReset asks the identity service to mail a reset link. Unknown
// addresses are reported exactly like known ones so the screen cannot be used
// to probe for accounts.
func (c *Controller) RequestPasswordReset(ctx context.Context, email string) error {
	emailCred, err := c.validator.Validate(credentials.KindEmail, email)
	if err != nil {
		return c.reject(KindForgotPassword, err)
	}

	a, err := c.begin(KindForgotPassword, StateSubmitting)
	if err != nil {
		return err
	}
	res, err := c.transport.RequestPasswordReset(ctx, emailCred.Value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settleLocked(a) {
		return ErrStale
	}

	outcome := outcomeSuccess
	switch {
	case errors.Is(err, transport.ErrAccountNotFound):
		outcome = outcomeNormalisedSuccess
	case err != nil:
		return c.failLocked(a, err)
	case !res.Accepted:
		outcome = outcomeNormalisedSuccess
	}

	now := c.nowTime()
	c.passwordReset = &PasswordResetTicket{
		RequestedAt: now,
		ExpiresAt:   now.Add(c.resetTTL),
		generation:  a.generation,
	}
	c.succeedLocked(a, StateRequested, outcome)
	return nil
}

// ConfirmPasswordReset sets a new password using the token from the reset
// link. It never signs the user in; they log in with the new password.
func (c *Controller) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	tokenCred, err := c.validator.Validate(credentials.KindToken, token)
	if err != nil {
		return c.reject(KindResetPassword, err)
	}
	passwordCred, err := c.validator.Validate(credentials.KindNewPassword, newPassword)
	if err != nil {
		return c.reject(KindResetPassword, err)
	}

	c.mu.Lock()
	f := c.flows[KindResetPassword]
	if f.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	if ticket := c.passwordReset; ticket != nil {
		if !c.nowTime().Before(ticket.ExpiresAt) {
			c.passwordReset = nil
			f.state = StateFailed
			f.err = transport.ErrExpired
			c.mu.Unlock()
			return transport.ErrExpired
		}
		ticket.Token = tokenCred.Value
	}
	a, _ := c.beginLocked(KindResetPassword, StateSubmitting)
	c.mu.Unlock()

	res, err := c.transport.ConfirmPasswordReset(ctx, tokenCred.Value, passwordCred.Value)
	if err == nil && !res.Reset {
		err = transport.ErrExpired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settleLocked(a) {
		return ErrStale
	}
	if err != nil {
		if errors.Is(err, transport.ErrExpired) {
			c.passwordReset = nil
		}
		return c.failLocked(a, err)
	}

	c.passwordReset = nil
	c.succeedLocked(a, StateReset, outcomeSuccess)
	return nil
}
