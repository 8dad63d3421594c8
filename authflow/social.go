package authflow

import (
	"context"

	"github.com/jrsteele09/go-auth-client/social"
	"github.com/jrsteele09/go-auth-client/transport"
)

// BeginSocial prepares the provider redirect. The flow then waits in
// Redirecting until CompleteSocial receives the provider's callback.
func (c *Controller) BeginSocial(ctx context.Context, provider string) (social.Redirect, error) {
	if c.bridge == nil {
		return social.Redirect{}, ErrSocialUnavailable
	}
	a, err := c.begin(KindSocial, StateRedirecting)
	if err != nil {
		return social.Redirect{}, err
	}
	redirect, err := c.bridge.Begin(ctx, provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settleLocked(a) {
		return social.Redirect{}, ErrStale
	}
	if err != nil {
		return social.Redirect{}, c.failLocked(a, err)
	}
	c.logger.Debug().Str("flow", string(a.kind)).Uint64("attempt", a.seq).Str("provider", provider).Msg("redirecting to provider")
	return redirect, nil
}

// CompleteSocial handles the provider callback: the response is checked by
// the bridge and the resulting credential exchanged for a session. Forged,
// cancelled or failed callbacks never reach the identity service.
func (c *Controller) CompleteSocial(ctx context.Context, resp social.ProviderResponse) error {
	if c.bridge == nil {
		return ErrSocialUnavailable
	}

	c.store.Current()
	c.mu.Lock()
	f := c.flows[KindSocial]
	if f.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	// Idle is accepted too: with a shared state store the callback may reach
	// a different client instance than the one that issued the redirect.
	if f.state != StateRedirecting && f.state != StateIdle {
		c.mu.Unlock()
		return ErrUnexpectedCallback
	}
	a, _ := c.beginLocked(KindSocial, StateExchanging)
	c.mu.Unlock()

	credential, err := c.bridge.Complete(ctx, resp)
	if err != nil {
		return c.commitLogin(a, transport.LoginResult{}, "", err)
	}
	res, err := c.transport.ExchangeSocialCredential(ctx, credential.Provider, credential.ProviderToken)
	return c.commitLogin(a, res, "", err)
}
