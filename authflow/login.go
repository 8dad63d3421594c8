package authflow

import (
	"context"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
)

// Login validates the credentials and, if they are well formed, asks the
// identity service for a session. Malformed input never reaches the service.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	emailCred, err := c.validator.Validate(credentials.KindEmail, email)
	if err != nil {
		return c.reject(KindLogin, err)
	}
	passwordCred, err := c.validator.Validate(credentials.KindPassword, password)
	if err != nil {
		return c.reject(KindLogin, err)
	}

	// Apply a pending expiry now so it cannot invalidate this attempt later.
	c.store.Current()
	a, err := c.begin(KindLogin, StateSubmitting)
	if err != nil {
		return err
	}
	res, err := c.transport.Login(ctx, emailCred.Value, passwordCred.Value)
	return c.commitLogin(a, res, emailCred.Display, err)
}

// commitLogin is shared by password and social sign-in: both end with a
// session from the identity service.
func (c *Controller) commitLogin(a attempt, res transport.LoginResult, display string, callErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settleLocked(a) {
		return ErrStale
	}
	if callErr != nil {
		return c.failLocked(a, callErr)
	}
	if res.UserID == "" {
		return c.failLocked(a, errors.New("[Controller.commitLogin] identity service returned no user"))
	}
	if res.DisplayName != "" && display == "" {
		display = res.DisplayName
	}

	err := c.writer.Authenticate(a.generation, session.Identity{
		UserID:          res.UserID,
		DisplayIdentity: display,
		ExpiresAt:       c.sessionExpiry(res.ExpiresAt),
	})
	if errors.Is(err, session.ErrStaleGeneration) {
		c.flows[a.kind].state = StateIdle
		c.logStale(a)
		return ErrStale
	}
	if err != nil {
		return c.failLocked(a, err)
	}

	c.dropVerificationLocked()
	c.succeedLocked(a, StateAuthenticated, outcomeSuccess)
	return nil
}
