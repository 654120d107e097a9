package tokensource

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// NewTokenSource wraps a KeyStore as an oauth2.TokenSource. The key is read
// per Token call so a rotated key takes effect without a restart.
func NewTokenSource(store KeyStore) oauth2.TokenSource {
	return &storeTokenSource{store: store}
}

type storeTokenSource struct {
	store KeyStore
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	key, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: key}, nil
}

// Transport authorizes outbound Anthropic requests with the key from its
// token source. Anthropic expects the key in x-api-key rather than the
// oauth2 default Authorization header, hence a custom RoundTripper instead
// of oauth2.Transport.
type Transport struct {
	Source oauth2.TokenSource
	Base   http.RoundTripper
}

// NewTransport builds the authorizing transport over base (http.DefaultTransport
// when nil).
func NewTransport(store KeyStore, base http.RoundTripper) *Transport {
	return &Transport{
		Source: oauth2.ReuseTokenSource(nil, NewTokenSource(store)),
		Base:   base,
	}
}

// RoundTrip implements http.RoundTripper. The request is cloned before
// mutation per the RoundTripper contract.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Source.Token()
	if err != nil {
		return nil, fmt.Errorf("resolve API key: %w", err)
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("x-api-key", token.AccessToken)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}
