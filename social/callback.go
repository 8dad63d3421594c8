package social

import (
	"net/url"

	"github.com/pkg/errors"
)

// ProviderResponse is the raw parameter set a provider sent back to the redirect URL.
type ProviderResponse struct {
	Provider string
	Params   url.Values
}

// ParseCallback collects the parameters of a provider redirect. Implicit
// flows deliver them in the fragment, code flows in the query; both are
// merged, with fragment values taking precedence.
func ParseCallback(provider, rawURL string) (ProviderResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ProviderResponse{}, errors.Wrap(ErrProviderError, "malformed callback URL")
	}

	params := u.Query()
	if u.Fragment != "" {
		fragment, err := url.ParseQuery(u.Fragment)
		if err != nil {
			return ProviderResponse{}, errors.Wrap(ErrProviderError, "malformed callback fragment")
		}
		for key, values := range fragment {
			params[key] = values
		}
	}
	return ProviderResponse{Provider: provider, Params: params}, nil
}
