package authflow

import (
	"context"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
)

// Signup creates an account. On success the session becomes
// pending_verification and the verify flow waits for the emailed code.
func (c *Controller) Signup(ctx context.Context, email, password string) error {
	emailCred, err := c.validator.Validate(credentials.KindEmail, email)
	if err != nil {
		return c.reject(KindSignup, err)
	}
	passwordCred, err := c.validator.Validate(credentials.KindNewPassword, password)
	if err != nil {
		return c.reject(KindSignup, err)
	}

	// Reading the session applies a pending expiry before the attempt starts.
	if c.store.Current().IsAuthenticated() {
		return c.reject(KindSignup, ErrAlreadySignedIn)
	}

	a, err := c.begin(KindSignup, StateSubmitting)
	if err != nil {
		return err
	}
	res, err := c.transport.Signup(ctx, emailCred.Value, passwordCred.Value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settleLocked(a) {
		return ErrStale
	}
	if err != nil {
		return c.failLocked(a, err)
	}
	if res.UserID == "" {
		return c.failLocked(a, errors.New("[Controller.Signup] identity service returned no user"))
	}

	err = c.writer.BeginVerification(a.generation, session.Identity{
		UserID:          res.UserID,
		DisplayIdentity: emailCred.Display,
	})
	if errors.Is(err, session.ErrStaleGeneration) {
		c.flows[a.kind].state = StateIdle
		c.logStale(a)
		return ErrStale
	}
	if err != nil {
		return c.failLocked(a, err)
	}

	c.verification = c.newTicket(res.UserID, res.Verification)
	c.verification.generation = a.generation
	c.restLocked(KindVerifyEmail, c.flows[KindVerifyEmail])
	c.succeedLocked(a, StateAwaitingVerification, outcomeSuccess)
	return nil
}

// newTicket fills the fields the service left out from the local configuration.
func (c *Controller) newTicket(userID string, grant transport.VerificationGrant) *VerificationTicket {
	now := c.nowTime()
	ticket := &VerificationTicket{
		UserID:            userID,
		CodeLength:        grant.CodeLength,
		ExpiresAt:         grant.ExpiresAt,
		AttemptsRemaining: grant.AttemptsAllowed,
		ResendAvailableAt: grant.ResendAvailableAt,
	}
	if ticket.CodeLength <= 0 {
		ticket.CodeLength = c.verifyConfig.CodeLength
	}
	if ticket.ExpiresAt.IsZero() {
		ticket.ExpiresAt = now.Add(c.verifyConfig.TTL)
	}
	if ticket.AttemptsRemaining <= 0 {
		ticket.AttemptsRemaining = c.verifyConfig.MaxAttempts
	}
	if ticket.ResendAvailableAt.IsZero() {
		ticket.ResendAvailableAt = now.Add(c.verifyConfig.ResendCooldown)
	}
	ticket.attemptsAllowed = ticket.AttemptsRemaining
	return ticket
}

// VerifyEmail submits the emailed code for the pending signup. Every check
// consumes an attempt; once attempts run out or the ticket expires the flow is
// expired and only ResendVerification can revive it.
func (c *Controller) VerifyEmail(ctx context.Context, code string) error {
	c.mu.Lock()
	ticket := c.verification
	if ticket == nil {
		c.mu.Unlock()
		return ErrNoVerificationTicket
	}
	f := c.flows[KindVerifyEmail]
	if f.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	codeCred, err := c.validator.ValidateCode(code, ticket.CodeLength)
	if err != nil {
		f.err = err
		c.mu.Unlock()
		return err
	}
	if ticket.AttemptsRemaining <= 0 || !c.nowTime().Before(ticket.ExpiresAt) {
		f.state = StateExpired
		f.err = transport.ErrExpired
		c.mu.Unlock()
		return transport.ErrExpired
	}

	ticket.AttemptsRemaining--
	a, _ := c.beginLocked(KindVerifyEmail, StateChecking)
	userID := ticket.UserID
	c.mu.Unlock()

	res, err := c.transport.VerifyEmail(ctx, userID, codeCred.Value)
	if err == nil && !res.Verified {
		err = transport.ErrCodeRejected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settleLocked(a) || c.verification != ticket {
		return ErrStale
	}

	switch {
	case err == nil:
		err = c.writer.CompleteVerification(a.generation, userID, c.sessionExpiry(res.ExpiresAt))
		if err != nil {
			// The session left pending_verification underneath us.
			c.logStale(a)
			c.dropVerificationLocked()
			return ErrStale
		}
		c.verification = nil
		if signup := c.flows[KindSignup]; signup.state == StateAwaitingVerification {
			signup.state = StateIdle
		}
		c.succeedLocked(a, StateVerified, outcomeSuccess)
		return nil

	case errors.Is(err, transport.ErrCodeRejected):
		if ticket.AttemptsRemaining <= 0 {
			return c.expireLocked(a, ticket)
		}
		f.state = StateCodeRejected
		f.err = err
		c.logger.Info().Str("flow", string(a.kind)).Uint64("attempt", a.seq).Int("attempts_remaining", ticket.AttemptsRemaining).Str("outcome", "code_rejected").Msg("verification code rejected")
		return err

	case errors.Is(err, transport.ErrExpired):
		return c.expireLocked(a, ticket)

	default:
		// Nothing was decided; the user may submit again.
		f.state = StateAwaitingCode
		f.err = err
		c.logger.Info().Err(err).Str("flow", string(a.kind)).Uint64("attempt", a.seq).Str("outcome", outcomeFailed).Msg("verification check failed")
		return err
	}
}

func (c *Controller) expireLocked(a attempt, ticket *VerificationTicket) error {
	ticket.AttemptsRemaining = 0
	f := c.flows[a.kind]
	f.state = StateExpired
	f.err = transport.ErrExpired
	c.logger.Info().Str("flow", string(a.kind)).Uint64("attempt", a.seq).Str("outcome", "expired").Msg("verification expired")
	return transport.ErrExpired
}

// ResendVerification asks for a new code. It is refused locally with
// transport.ErrRateLimited until the ticket's ResendAvailableAt. A new code
// restores the attempts, extends the ticket and restarts the cooldown.
func (c *Controller) ResendVerification(ctx context.Context) error {
	c.mu.Lock()
	ticket := c.verification
	if ticket == nil {
		c.mu.Unlock()
		return ErrNoVerificationTicket
	}
	f := c.flows[KindVerifyEmail]
	if f.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.nowTime().Before(ticket.ResendAvailableAt) {
		f.err = transport.ErrRateLimited
		c.mu.Unlock()
		return transport.ErrRateLimited
	}

	resting := f.state
	a, _ := c.beginLocked(KindVerifyEmail, resting)
	userID := ticket.UserID
	c.mu.Unlock()

	res, err := c.transport.ResendVerification(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settleLocked(a) || c.verification != ticket {
		return ErrStale
	}
	if err != nil {
		f.state = resting
		f.err = err
		if errors.Is(err, transport.ErrRateLimited) {
			ticket.ResendAvailableAt = laterOf(ticket.ResendAvailableAt, c.nowTime().Add(c.verifyConfig.ResendCooldown))
		}
		c.logger.Info().Err(err).Str("flow", string(a.kind)).Uint64("attempt", a.seq).Str("outcome", outcomeFailed).Msg("verification resend failed")
		return err
	}

	now := c.nowTime()
	ticket.ResendAvailableAt = laterOf(now.Add(c.verifyConfig.ResendCooldown), res.ResendAvailableAt)
	ticket.ExpiresAt = res.ExpiresAt
	if ticket.ExpiresAt.IsZero() {
		ticket.ExpiresAt = now.Add(c.verifyConfig.TTL)
	}
	ticket.AttemptsRemaining = ticket.attemptsAllowed
	c.succeedLocked(a, StateAwaitingCode, "resent")
	return nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
