// Package faketransport is an in-memory identity service. It implements
// transport.Transport directly for tests and serves the same wire API over
// HTTP (see Handler) for local development.
package faketransport

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Operation names, as counted by Calls and passed to the call hook.
const (
	OpLogin                = "login"
	OpSignup               = "signup"
	OpVerifyEmail          = "verify_email"
	OpResendVerification   = "resend_verification"
	OpRequestPasswordReset = "request_password_reset"
	OpConfirmPasswordReset = "confirm_password_reset"
	OpSocialExchange       = "social_exchange"
)

const (
	defaultSessionTTL      = time.Hour
	defaultVerificationTTL = 15 * time.Minute
	defaultResendCooldown  = 60 * time.Second
	defaultResetTTL        = 30 * time.Minute
	defaultCodeLength      = 6
	defaultMaxAttempts     = 5
	issuer                 = "authdev"
)

var _ transport.Transport = (*Backend)(nil)

// CallHook runs before every operation, outside the backend lock. A non-nil
// error is returned to the caller in place of the operation's result.
type CallHook func(ctx context.Context, op string) error

type account struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Verified     bool
}

type verification struct {
	Code              string
	ExpiresAt         time.Time
	AttemptsRemaining int
	ResendAvailableAt time.Time
}

type resetGrant struct {
	UserID    string
	ExpiresAt time.Time
}

// Backend holds accounts, pending verifications and reset grants in memory.
type Backend struct {
	mu             sync.Mutex
	accounts       map[string]*account     // by user ID
	emailIDs       map[string]string       // lower-cased email to user ID
	socialIDs      map[string]string       // provider + subject to user ID
	verifications  map[string]verification // by user ID
	resetGrants    map[string]resetGrant   // by token
	resetTokensFor map[string]string       // user ID to latest token
	calls          map[string]int

	callHook        CallHook
	nowTime         func() time.Time
	codeGenerator   func(length int) string
	signingKey      []byte
	sessionTTL      time.Duration
	verificationTTL time.Duration
	resendCooldown  time.Duration
	resetTTL        time.Duration
	codeLength      int
	maxAttempts     int
	passwordCost    int
	logger          zerolog.Logger
}

// Option defines a function type to modify the Backend instance.
type Option func(*Backend)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(b *Backend) {
		b.nowTime = nowFunc
	}
}

// WithCodeGenerator replaces the random verification code generator.
func WithCodeGenerator(gen func(length int) string) Option {
	return func(b *Backend) {
		b.codeGenerator = gen
	}
}

// WithCallHook installs a hook run before every operation.
func WithCallHook(hook CallHook) Option {
	return func(b *Backend) {
		b.callHook = hook
	}
}

// WithSigningKey sets the HMAC key used to sign access tokens.
func WithSigningKey(key []byte) Option {
	return func(b *Backend) {
		b.signingKey = key
	}
}

// WithSessionTTL sets the lifetime of issued sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.sessionTTL = ttl
	}
}

// WithVerification sets the verification code shape and limits.
func WithVerification(codeLength, maxAttempts int, ttl, resendCooldown time.Duration) Option {
	return func(b *Backend) {
		b.codeLength = codeLength
		b.maxAttempts = maxAttempts
		b.verificationTTL = ttl
		b.resendCooldown = resendCooldown
	}
}

// WithResetTTL sets the lifetime of password reset tokens.
func WithResetTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.resetTTL = ttl
	}
}

// WithPasswordCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithPasswordCost(cost int) Option {
	return func(b *Backend) {
		b.passwordCost = cost
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// NewBackend creates an empty identity service.
func NewBackend(options ...Option) *Backend {
	b := &Backend{
		accounts:        make(map[string]*account),
		emailIDs:        make(map[string]string),
		socialIDs:       make(map[string]string),
		verifications:   make(map[string]verification),
		resetGrants:     make(map[string]resetGrant),
		resetTokensFor:  make(map[string]string),
		calls:           make(map[string]int),
		nowTime:         time.Now,
		codeGenerator:   randomDigits,
		sessionTTL:      defaultSessionTTL,
		verificationTTL: defaultVerificationTTL,
		resendCooldown:  defaultResendCooldown,
		resetTTL:        defaultResetTTL,
		codeLength:      defaultCodeLength,
		maxAttempts:     defaultMaxAttempts,
		passwordCost:    bcrypt.DefaultCost,
		logger:          log.Logger,
	}
	for _, opt := range options {
		opt(b)
	}
	if len(b.signingKey) == 0 {
		b.signingKey = []byte(uuid.NewString() + uuid.NewString())
	}
	return b
}

// CreateAccount seeds an account and returns its user ID.
func (b *Backend) CreateAccount(email, password string, verified bool) (string, error) {
	hash, err := hashPassword(password, b.passwordCost)
	if err != nil {
		return "", errors.Wrap(err, "[Backend.CreateAccount] failed to hash password")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := emailKey(email)
	if _, exists := b.emailIDs[key]; exists {
		return "", transport.ErrAccountExists
	}
	acc := &account{ID: uuid.NewString(), Email: email, PasswordHash: hash, Verified: verified}
	b.accounts[acc.ID] = acc
	b.emailIDs[key] = acc.ID
	return acc.ID, nil
}

// Calls returns how many times op reached the backend (including hook failures).
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// VerificationCode returns the code currently outstanding for userID, as if read from the user's inbox.
func (b *Backend) VerificationCode(userID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.verifications[userID]
	return v.Code, ok
}

// ResetToken returns the most recent reset token mailed to email.
func (b *Backend) ResetToken(email string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.emailIDs[emailKey(email)]
	if !ok {
		return "", false
	}
	token, ok := b.resetTokensFor[id]
	return token, ok
}

// ParseAccessToken verifies an access token issued by this backend and returns its subject.
func (b *Backend) ParseAccessToken(raw string) (string, error) {
	token, err := jwtlib.Parse(raw, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.signingKey, nil
	}, jwtlib.WithIssuer(issuer), jwtlib.WithTimeFunc(b.nowTime))
	if err != nil {
		return "", errors.Wrap(err, "[Backend.ParseAccessToken] invalid token")
	}
	return token.Claims.GetSubject()
}

func (b *Backend) Login(ctx context.Context, email, password string) (transport.LoginResult, error) {
	if err := b.enter(ctx, OpLogin); err != nil {
		return transport.LoginResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[b.emailIDs[emailKey(email)]]
	if !ok || !checkPasswordHash(password, acc.PasswordHash) {
		return transport.LoginResult{}, transport.ErrInvalidCredentials
	}
	if !acc.Verified {
		return transport.LoginResult{}, transport.ErrAccountNotVerified
	}
	return b.issueLocked(acc)
}

func (b *Backend) Signup(ctx context.Context, email, password string) (transport.SignupResult, error) {
	if err := b.enter(ctx, OpSignup); err != nil {
		return transport.SignupResult{}, err
	}
	hash, err := hashPassword(password, b.passwordCost)
	if err != nil {
		return transport.SignupResult{}, errors.Wrap(err, "[Backend.Signup] failed to hash password")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := emailKey(email)
	if _, exists := b.emailIDs[key]; exists {
		return transport.SignupResult{}, transport.ErrAccountExists
	}
	acc := &account{ID: uuid.NewString(), Email: email, PasswordHash: hash}
	b.accounts[acc.ID] = acc
	b.emailIDs[key] = acc.ID

	v := b.newVerificationLocked(acc.ID)
	return transport.SignupResult{
		UserID: acc.ID,
		Verification: transport.VerificationGrant{
			CodeLength:        b.codeLength,
			ExpiresAt:         v.ExpiresAt,
			AttemptsAllowed:   v.AttemptsRemaining,
			ResendAvailableAt: v.ResendAvailableAt,
		},
	}, nil
}

func (b *Backend) VerifyEmail(ctx context.Context, userID, code string) (transport.VerifyResult, error) {
	if err := b.enter(ctx, OpVerifyEmail); err != nil {
		return transport.VerifyResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[userID]
	if !ok {
		return transport.VerifyResult{}, transport.ErrAccountNotFound
	}
	v, ok := b.verifications[userID]
	if !ok {
		return transport.VerifyResult{}, transport.ErrExpired
	}
	now := b.nowTime()
	if v.AttemptsRemaining <= 0 || !now.Before(v.ExpiresAt) {
		return transport.VerifyResult{}, transport.ErrExpired
	}
	if code != v.Code {
		v.AttemptsRemaining--
		b.verifications[userID] = v
		return transport.VerifyResult{}, transport.ErrCodeRejected
	}

	acc.Verified = true
	delete(b.verifications, userID)
	b.logger.Debug().Str("user_id", userID).Msg("email verified")
	return transport.VerifyResult{Verified: true, ExpiresAt: now.Add(b.sessionTTL)}, nil
}

func (b *Backend) ResendVerification(ctx context.Context, userID string) (transport.ResendResult, error) {
	if err := b.enter(ctx, OpResendVerification); err != nil {
		return transport.ResendResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[userID]
	if !ok {
		return transport.ResendResult{}, transport.ErrAccountNotFound
	}
	if acc.Verified {
		return transport.ResendResult{}, transport.ErrExpired
	}
	if v, ok := b.verifications[userID]; ok && b.nowTime().Before(v.ResendAvailableAt) {
		return transport.ResendResult{}, transport.ErrRateLimited
	}
	v := b.newVerificationLocked(userID)
	return transport.ResendResult{ResendAvailableAt: v.ResendAvailableAt, ExpiresAt: v.ExpiresAt}, nil
}

// RequestPasswordReset reports unknown addresses as ErrAccountNotFound, the way
// a careless service would. Clients are expected to hide the difference.
func (b *Backend) RequestPasswordReset(ctx context.Context, email string) (transport.ResetRequestResult, error) {
	if err := b.enter(ctx, OpRequestPasswordReset); err != nil {
		return transport.ResetRequestResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.emailIDs[emailKey(email)]
	if !ok {
		return transport.ResetRequestResult{}, transport.ErrAccountNotFound
	}
	if previous, ok := b.resetTokensFor[id]; ok {
		delete(b.resetGrants, previous)
	}
	token := uuid.NewString()
	b.resetGrants[token] = resetGrant{UserID: id, ExpiresAt: b.nowTime().Add(b.resetTTL)}
	b.resetTokensFor[id] = token
	return transport.ResetRequestResult{Accepted: true}, nil
}

func (b *Backend) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (transport.ResetConfirmResult, error) {
	if err := b.enter(ctx, OpConfirmPasswordReset); err != nil {
		return transport.ResetConfirmResult{}, err
	}
	hash, err := hashPassword(newPassword, b.passwordCost)
	if err != nil {
		return transport.ResetConfirmResult{}, errors.Wrap(err, "[Backend.ConfirmPasswordReset] failed to hash password")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	grant, ok := b.resetGrants[token]
	if !ok || !b.nowTime().Before(grant.ExpiresAt) {
		delete(b.resetGrants, token)
		return transport.ResetConfirmResult{}, transport.ErrExpired
	}
	delete(b.resetGrants, token)
	delete(b.resetTokensFor, grant.UserID)

	acc, ok := b.accounts[grant.UserID]
	if !ok {
		return transport.ResetConfirmResult{}, transport.ErrAccountNotFound
	}
	acc.PasswordHash = hash
	return transport.ResetConfirmResult{Reset: true}, nil
}

// ExchangeSocialCredential provisions an account on first use. When the
// provider token is a JWT its sub, email and name claims identify the user;
// signatures are not checked.
func (b *Backend) ExchangeSocialCredential(ctx context.Context, provider, providerToken string) (transport.LoginResult, error) {
	if err := b.enter(ctx, OpSocialExchange); err != nil {
		return transport.LoginResult{}, err
	}
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(providerToken) == "" {
		return transport.LoginResult{}, transport.ErrInvalidCredentials
	}
	subject, email, name := socialClaims(providerToken)

	b.mu.Lock()
	defer b.mu.Unlock()

	key := provider + "|" + subject
	acc, ok := b.accounts[b.socialIDs[key]]
	if !ok {
		acc = &account{ID: uuid.NewString(), Email: email, DisplayName: name, Verified: true}
		b.accounts[acc.ID] = acc
		b.socialIDs[key] = acc.ID
		b.logger.Debug().Str("provider", provider).Str("user_id", acc.ID).Msg("social account provisioned")
	}
	return b.issueLocked(acc)
}

func (b *Backend) enter(ctx context.Context, op string) error {
	b.mu.Lock()
	b.calls[op]++
	hook := b.callHook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return errors.Wrap(transport.ErrNetwork, ctx.Err().Error())
	}
	return nil
}

func (b *Backend) newVerificationLocked(userID string) verification {
	now := b.nowTime()
	v := verification{
		Code:              b.codeGenerator(b.codeLength),
		ExpiresAt:         now.Add(b.verificationTTL),
		AttemptsRemaining: b.maxAttempts,
		ResendAvailableAt: now.Add(b.resendCooldown),
	}
	b.verifications[userID] = v
	return v
}

func (b *Backend) issueLocked(acc *account) (transport.LoginResult, error) {
	now := b.nowTime()
	expiresAt := now.Add(b.sessionTTL)
	token, err := b.signToken(acc, now, expiresAt)
	if err != nil {
		return transport.LoginResult{}, err
	}
	return transport.LoginResult{
		UserID:      acc.ID,
		DisplayName: acc.DisplayName,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

func (b *Backend) signToken(acc *account, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwtlib.MapClaims{
		"iss":   issuer,
		"sub":   acc.ID,
		"email": acc.Email,
		"iat":   issuedAt.Unix(),
		"exp":   expiresAt.Unix(),
		"jti":   uuid.NewString(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		return "", errors.Wrap(err, "[Backend.signToken] failed to sign access token")
	}
	return signed, nil
}

func socialClaims(providerToken string) (subject, email, name string) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(providerToken, claims); err == nil {
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			email, _ = claims["email"].(string)
			name, _ = claims["name"].(string)
			return sub, email, name
		}
	}
	return providerToken, "", ""
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func randomDigits(length int) string {
	var sb strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String()
}
