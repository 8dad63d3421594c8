// Package authflow drives the login, signup, email verification, password
// reset and social sign-in flows. It is the only component that talks to the
// identity service and the only holder of the session Writer.
package authflow

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/social"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxAttempts       = 5
	defaultResendCooldown    = 60 * time.Second
	defaultVerificationTTL   = 15 * time.Minute
	defaultResetTTL          = 30 * time.Minute
	defaultSessionTTL        = time.Hour
	outcomeSuccess           = "success"
	outcomeStale             = "stale"
	outcomeFailed            = "failed"
	outcomeRejectedLocally   = "rejected_locally"
	outcomeNormalisedSuccess = "normalised"
)

// VerificationConfig holds the client-side defaults for email verification.
// Values the identity service sends with a signup take precedence.
type VerificationConfig struct {
	CodeLength     int
	MaxAttempts    int
	ResendCooldown time.Duration
	TTL            time.Duration
}

// Controller owns the per-flow state machines. Operations block while their
// transport call is outstanding, so callers run them on their own goroutine
// and observe progress through Status.
type Controller struct {
	mu            sync.Mutex
	flows         map[Kind]*flow
	verification  *VerificationTicket
	passwordReset *PasswordResetTicket

	store     *session.Store
	writer    *session.Writer
	transport transport.Transport
	validator *credentials.Validator
	bridge    *social.Bridge

	verifyConfig      VerificationConfig
	resetTTL          time.Duration
	defaultSessionTTL time.Duration
	nowTime           func() time.Time
	logger            zerolog.Logger
}

// Option defines a function type to modify the Controller instance.
type Option func(*Controller)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Controller) {
		c.nowTime = nowFunc
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithBridge enables social sign-in.
func WithBridge(bridge *social.Bridge) Option {
	return func(c *Controller) {
		c.bridge = bridge
	}
}

// WithVerificationConfig overrides the verification defaults. Zero fields keep their default.
func WithVerificationConfig(cfg VerificationConfig) Option {
	return func(c *Controller) {
		if cfg.CodeLength > 0 {
			c.verifyConfig.CodeLength = cfg.CodeLength
		}
		if cfg.MaxAttempts > 0 {
			c.verifyConfig.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.ResendCooldown > 0 {
			c.verifyConfig.ResendCooldown = cfg.ResendCooldown
		}
		if cfg.TTL > 0 {
			c.verifyConfig.TTL = cfg.TTL
		}
	}
}

// WithResetTTL sets how long a password reset request is considered valid locally.
func WithResetTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		c.resetTTL = ttl
	}
}

// WithDefaultSessionTTL sets the session lifetime used when the identity
// service does not report one.
func WithDefaultSessionTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		c.defaultSessionTTL = ttl
	}
}

// NewController wires a controller to the session it mutates and the
// identity service it calls. It registers itself to be told about session
// resets so that logout and expiry tear down every flow.
func NewController(
	store *session.Store,
	writer *session.Writer,
	tr transport.Transport,
	validator *credentials.Validator,
	options ...Option,
) (*Controller, error) {
	if store == nil {
		return nil, errors.New("[NewController] session store is required")
	}
	if writer == nil {
		return nil, errors.New("[NewController] session writer is required")
	}
	if tr == nil {
		return nil, errors.New("[NewController] transport is required")
	}
	if validator == nil {
		return nil, errors.New("[NewController] validator is required")
	}

	c := &Controller{
		flows:     make(map[Kind]*flow, len(Kinds)),
		store:     store,
		writer:    writer,
		transport: tr,
		validator: validator,
		verifyConfig: VerificationConfig{
			CodeLength:     validator.Policy().CodeLength,
			MaxAttempts:    defaultMaxAttempts,
			ResendCooldown: defaultResendCooldown,
			TTL:            defaultVerificationTTL,
		},
		resetTTL:          defaultResetTTL,
		defaultSessionTTL: defaultSessionTTL,
		nowTime:           time.Now,
		logger:            log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	for _, kind := range Kinds {
		c.flows[kind] = &flow{state: StateIdle}
	}

	writer.OnReset(c.onSessionReset)
	return c, nil
}

// Status returns a snapshot of the flow of the given kind.
func (c *Controller) Status(kind Kind) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flows[kind]
	if !ok {
		return Status{Kind: kind, State: StateIdle}
	}
	return Status{Kind: kind, State: f.state, Err: f.err, Attempt: f.seq}
}

// VerificationTicket returns a copy of the outstanding verification ticket.
func (c *Controller) VerificationTicket() (VerificationTicket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verification == nil {
		return VerificationTicket{}, false
	}
	return *c.verification, true
}

// ResetTicket returns a copy of the outstanding password reset ticket.
func (c *Controller) ResetTicket() (PasswordResetTicket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.passwordReset == nil {
		return PasswordResetTicket{}, false
	}
	return *c.passwordReset, true
}

// Cancel abandons the flow of the given kind, as when the user navigates away.
// A response still in flight for it will be discarded.
func (c *Controller) Cancel(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flows[kind]
	if !ok {
		return
	}
	c.restLocked(kind, f)
	c.logger.Debug().Str("flow", string(kind)).Uint64("attempt", f.seq).Msg("flow cancelled")
}

// Logout resets the session immediately. Flows are torn down by the reset hook.
func (c *Controller) Logout() {
	c.store.Logout()
}

// onSessionReset tears down whatever predates the reset. Attempts and tickets
// from the new generation were started after the reset and are left alone.
func (c *Controller) onSessionReset(reason session.ResetReason) {
	generation := c.writer.Generation()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.verification != nil && c.verification.generation < generation {
		c.verification = nil
	}
	if c.passwordReset != nil && c.passwordReset.generation < generation {
		c.passwordReset = nil
	}
	for _, kind := range Kinds {
		if f := c.flows[kind]; f.generation < generation {
			c.restLocked(kind, f)
		}
	}
	c.logger.Info().Str("reason", string(reason)).Uint64("generation", generation).Msg("auth flows reset")
}

// restLocked invalidates any outstanding attempt and returns the flow to its resting state.
func (c *Controller) restLocked(kind Kind, f *flow) {
	f.seq++
	f.inFlight = false
	f.err = nil
	f.state = StateIdle
	if kind == KindVerifyEmail && c.verification != nil {
		f.state = StateAwaitingCode
	}
}

// reject records a local validation failure without disturbing an attempt in flight.
func (c *Controller) reject(kind Kind, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.flows[kind]
	if f.inFlight {
		return err
	}
	f.err = err
	if f.state != StateAwaitingCode && f.state != StateCodeRejected && f.state != StateRedirecting {
		f.state = StateIdle
	}
	c.logger.Debug().Str("flow", string(kind)).Str("outcome", outcomeRejectedLocally).Msg("input rejected")
	return err
}

// begin starts an attempt of kind, moving the flow to state.
func (c *Controller) begin(kind Kind, state State) (attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked(kind, state)
}

func (c *Controller) beginLocked(kind Kind, state State) (attempt, error) {
	f := c.flows[kind]
	if f.inFlight {
		return attempt{}, ErrBusy
	}
	f.seq++
	f.inFlight = true
	f.state = state
	f.err = nil
	f.generation = c.writer.Generation()
	a := attempt{kind: kind, seq: f.seq, generation: f.generation}
	c.logger.Debug().Str("flow", string(kind)).Uint64("attempt", a.seq).Msg("attempt started")
	return a, nil
}

// settleLocked ends a returning attempt. It reports false when the attempt
// is stale and must not touch any state.
func (c *Controller) settleLocked(a attempt) bool {
	f := c.flows[a.kind]
	if f.seq != a.seq {
		c.logStale(a)
		return false
	}
	f.inFlight = false
	if c.writer.Generation() != a.generation {
		f.state = StateIdle
		c.logStale(a)
		return false
	}
	return true
}

func (c *Controller) failLocked(a attempt, err error) error {
	f := c.flows[a.kind]
	f.state = StateFailed
	f.err = err
	c.logger.Info().Err(err).Str("flow", string(a.kind)).Uint64("attempt", a.seq).Str("outcome", outcomeFailed).Msg("attempt failed")
	return err
}

func (c *Controller) succeedLocked(a attempt, state State, outcome string) {
	f := c.flows[a.kind]
	f.state = state
	f.err = nil
	c.logger.Info().Str("flow", string(a.kind)).Uint64("attempt", a.seq).Str("outcome", outcome).Msg("attempt succeeded")
}

func (c *Controller) logStale(a attempt) {
	c.logger.Debug().Str("flow", string(a.kind)).Uint64("attempt", a.seq).Str("outcome", outcomeStale).Msg("late response discarded")
}

func (c *Controller) sessionExpiry(expiresAt time.Time) time.Time {
	if expiresAt.IsZero() {
		return c.nowTime().Add(c.defaultSessionTTL)
	}
	return expiresAt
}

// dropVerificationLocked ends a pending signup verification, as when another
// identity signs in.
func (c *Controller) dropVerificationLocked() {
	if c.verification == nil {
		return
	}
	c.verification = nil
	c.restLocked(KindVerifyEmail, c.flows[KindVerifyEmail])
	if signup := c.flows[KindSignup]; signup.state == StateAwaitingVerification {
		signup.state = StateIdle
	}
}
