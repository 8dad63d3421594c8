// Package social turns a third-party sign-in round trip into a credential the
// identity service can exchange for a session.
//
// Begin produces the provider redirect and remembers its anti-forgery state.
// Complete accepts whatever the provider sent back (authorization code, ID
// token or access token, via query or fragment), checks it against that state
// and normalises it into a single CredentialAttempt.
package social

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const defaultStateTTL = 10 * time.Minute

// Response types a provider can be asked for.
const (
	ResponseTypeCode    = "code"
	ResponseTypeIDToken = "id_token"
	ResponseTypeToken   = "token"
)

// Token types carried by a CredentialAttempt.
const (
	TokenTypeAuthorizationCode = "authorization_code"
	TokenTypeIDToken           = "id_token"
	TokenTypeAccessToken       = "access_token"
)

// ProviderConfig describes one social provider.
type ProviderConfig struct {
	Name   string
	OAuth2 oauth2.Config

	// Issuer enables OIDC: the endpoint is discovered from it and ID tokens are
	// verified against it. Leave empty for plain OAuth2 providers.
	Issuer string

	// ResponseType defaults to ResponseTypeCode.
	ResponseType string

	// ExchangeCode makes the bridge redeem authorization codes itself (with
	// PKCE). Otherwise the code is forwarded to the identity service as is.
	ExchangeCode bool
}

// Redirect is where the user must be sent to sign in with a provider.
type Redirect struct {
	Provider  string
	URL       string
	State     string
	ExpiresAt time.Time
}

// CredentialAttempt is the normalised provider credential handed to the identity service.
type CredentialAttempt struct {
	Provider      string
	ProviderToken string
	TokenType     string
}

type oidcProvider struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// Bridge runs the redirect half of social sign-in.
type Bridge struct {
	providers map[string]ProviderConfig
	store     StateStore
	stateTTL  time.Duration
	nowTime   func() time.Time
	logger    zerolog.Logger

	oidcLock sync.RWMutex
	oidc     map[string]oidcProvider
}

// BridgeOption defines a function type to modify the Bridge instance.
type BridgeOption func(*Bridge)

// WithStateStore replaces the default in-memory state store.
func WithStateStore(store StateStore) BridgeOption {
	return func(b *Bridge) {
		b.store = store
	}
}

// WithStateTTL sets how long a redirect stays redeemable.
func WithStateTTL(ttl time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.stateTTL = ttl
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) BridgeOption {
	return func(b *Bridge) {
		b.nowTime = nowFunc
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a Bridge for the given providers.
func NewBridge(providers []ProviderConfig, options ...BridgeOption) (*Bridge, error) {
	b := &Bridge{
		providers: make(map[string]ProviderConfig, len(providers)),
		stateTTL:  defaultStateTTL,
		nowTime:   time.Now,
		logger:    log.Logger,
		oidc:      make(map[string]oidcProvider),
	}
	for _, opt := range options {
		opt(b)
	}
	if b.store == nil {
		b.store = NewInMemoryStateStore(b.nowTime)
	}

	for _, p := range providers {
		if p.Name == "" {
			return nil, errors.New("[social.NewBridge] provider name is required")
		}
		if p.OAuth2.ClientID == "" {
			return nil, errors.Errorf("[social.NewBridge] provider %s: client ID is required", p.Name)
		}
		if _, dup := b.providers[p.Name]; dup {
			return nil, errors.Errorf("[social.NewBridge] provider %s configured twice", p.Name)
		}
		switch p.ResponseType {
		case "":
			p.ResponseType = ResponseTypeCode
		case ResponseTypeCode, ResponseTypeToken:
		case ResponseTypeIDToken:
			if p.Issuer == "" {
				return nil, errors.Errorf("[social.NewBridge] provider %s: id_token responses require an issuer", p.Name)
			}
		default:
			return nil, errors.Errorf("[social.NewBridge] provider %s: unsupported response type %q", p.Name, p.ResponseType)
		}
		b.providers[p.Name] = p
	}
	return b, nil
}

// Providers lists the configured provider names.
func (b *Bridge) Providers() []string {
	names := make([]string, 0, len(b.providers))
	for name := range b.providers {
		names = append(names, name)
	}
	return names
}

// Begin creates a provider redirect with fresh state, nonce and PKCE verifier.
func (b *Bridge) Begin(ctx context.Context, provider string) (Redirect, error) {
	p, ok := b.providers[provider]
	if !ok {
		return Redirect{}, ErrUnknownProvider
	}
	cfg, err := b.oauth2Config(ctx, p)
	if err != nil {
		return Redirect{}, err
	}

	now := b.nowTime()
	state := generateRandomString(32)
	flow := FlowState{Provider: p.Name, CreatedAt: now}

	var opts []oauth2.AuthCodeOption
	if p.ResponseType != ResponseTypeCode {
		opts = append(opts, oauth2.SetAuthURLParam("response_type", p.ResponseType))
	}
	if p.Issuer != "" {
		flow.Nonce = generateRandomString(16)
		opts = append(opts, oidc.Nonce(flow.Nonce))
	}
	if p.ResponseType == ResponseTypeCode && p.ExchangeCode {
		flow.CodeVerifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(flow.CodeVerifier))
	}

	if err := b.store.Put(ctx, state, flow, b.stateTTL); err != nil {
		return Redirect{}, errors.Wrap(err, "[Bridge.Begin] failed to save state")
	}

	b.logger.Debug().Str("provider", p.Name).Msg("social redirect issued")
	return Redirect{
		Provider:  p.Name,
		URL:       cfg.AuthCodeURL(state, opts...),
		State:     state,
		ExpiresAt: now.Add(b.stateTTL),
	}, nil
}

// Complete validates a provider response and normalises it into a
// CredentialAttempt. The state is consumed whatever the outcome and is checked
// before anything else the callback claims, errors included.
func (b *Bridge) Complete(ctx context.Context, resp ProviderResponse) (CredentialAttempt, error) {
	p, ok := b.providers[resp.Provider]
	if !ok {
		return CredentialAttempt{}, ErrUnknownProvider
	}

	state := resp.Params.Get("state")
	flow, found, err := b.store.Take(ctx, state)
	if err != nil {
		return CredentialAttempt{}, errors.Wrap(err, "[Bridge.Complete] failed to load state")
	}

	if !found || flow.Provider != p.Name {
		b.logger.Warn().Str("provider", p.Name).Bool("known_state", found).Msg("social callback with mismatched state")
		return CredentialAttempt{}, ErrMismatchedState
	}

	if code := resp.Params.Get("error"); code != "" {
		if cancelCodes[code] {
			return CredentialAttempt{}, ErrUserCancelled
		}
		msg := code
		if desc := resp.Params.Get("error_description"); desc != "" {
			msg += ": " + desc
		}
		return CredentialAttempt{}, errors.Wrap(ErrProviderError, msg)
	}

	switch {
	case resp.Params.Get("id_token") != "":
		return b.idTokenAttempt(ctx, p, flow, resp.Params.Get("id_token"))
	case resp.Params.Get("code") != "":
		return b.codeAttempt(ctx, p, flow, resp.Params.Get("code"))
	case resp.Params.Get("access_token") != "":
		return CredentialAttempt{Provider: p.Name, ProviderToken: resp.Params.Get("access_token"), TokenType: TokenTypeAccessToken}, nil
	}
	return CredentialAttempt{}, errors.Wrap(ErrProviderError, "response carries no credential")
}

func (b *Bridge) codeAttempt(ctx context.Context, p ProviderConfig, flow FlowState, code string) (CredentialAttempt, error) {
	if !p.ExchangeCode {
		return CredentialAttempt{Provider: p.Name, ProviderToken: code, TokenType: TokenTypeAuthorizationCode}, nil
	}

	cfg, err := b.oauth2Config(ctx, p)
	if err != nil {
		return CredentialAttempt{}, err
	}
	var opts []oauth2.AuthCodeOption
	if flow.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(flow.CodeVerifier))
	}
	token, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return CredentialAttempt{}, errors.Wrap(ErrProviderError, "code exchange failed: "+err.Error())
	}

	if p.Issuer != "" {
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			return CredentialAttempt{}, errors.Wrap(ErrProviderError, "token response has no id_token")
		}
		return b.idTokenAttempt(ctx, p, flow, rawIDToken)
	}
	return CredentialAttempt{Provider: p.Name, ProviderToken: token.AccessToken, TokenType: TokenTypeAccessToken}, nil
}

func (b *Bridge) idTokenAttempt(ctx context.Context, p ProviderConfig, flow FlowState, rawIDToken string) (CredentialAttempt, error) {
	if p.Issuer == "" {
		return CredentialAttempt{}, errors.Wrap(ErrProviderError, "id_token from a provider without an issuer")
	}
	op, err := b.oidcProviderFor(ctx, p)
	if err != nil {
		return CredentialAttempt{}, err
	}
	idToken, err := op.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return CredentialAttempt{}, errors.Wrap(ErrProviderError, "id_token verification failed: "+err.Error())
	}
	if idToken.Nonce != flow.Nonce {
		return CredentialAttempt{}, ErrMismatchedState
	}
	return CredentialAttempt{Provider: p.Name, ProviderToken: rawIDToken, TokenType: TokenTypeIDToken}, nil
}

func (b *Bridge) oauth2Config(ctx context.Context, p ProviderConfig) (oauth2.Config, error) {
	cfg := p.OAuth2
	if p.Issuer == "" {
		return cfg, nil
	}
	op, err := b.oidcProviderFor(ctx, p)
	if err != nil {
		return oauth2.Config{}, err
	}
	cfg.Endpoint = op.provider.Endpoint()
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return cfg, nil
}

// oidcProviderFor discovers and caches the provider's OIDC configuration.
func (b *Bridge) oidcProviderFor(ctx context.Context, p ProviderConfig) (oidcProvider, error) {
	b.oidcLock.RLock()
	op, exists := b.oidc[p.Name]
	b.oidcLock.RUnlock()
	if exists {
		return op, nil
	}

	provider, err := oidc.NewProvider(ctx, p.Issuer)
	if err != nil {
		return oidcProvider{}, errors.Wrap(ErrProviderError, "OIDC discovery failed: "+err.Error())
	}
	op = oidcProvider{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{
			ClientID: p.OAuth2.ClientID,
			Now:      b.nowTime,
		}),
	}

	b.oidcLock.Lock()
	b.oidc[p.Name] = op
	b.oidcLock.Unlock()
	return op, nil
}

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
