package providers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// OAuthTokenConfig configures token-refresh-only OAuth2 for a provider that
// gateways through a bearer token rather than a static API key. This is
// deliberately narrower than a full login flow: it assumes a token and
// refresh token already exist (obtained by some external, out-of-core
// collaborator) and only renews the access token as it expires.
type OAuthTokenConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// AccessToken/RefreshToken/Expiry seed the initial oauth2.Token. A zero
	// Expiry is treated as already-expired, forcing an immediate refresh.
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenRefresher wraps an oauth2.TokenSource so a provider can pull a live
// bearer token on every request without re-implementing refresh-before-expiry
// logic itself.
type TokenRefresher struct {
	source oauth2.TokenSource
}

// NewTokenRefresher builds a TokenRefresher from cfg, using ctx for the
// underlying token refresh HTTP calls (oauth2.TokenSource.Token is called
// lazily, not here).
func NewTokenRefresher(ctx context.Context, cfg OAuthTokenConfig) *TokenRefresher {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	expiry := cfg.Expiry
	if expiry.IsZero() {
		expiry = time.Unix(0, 0)
	}
	seed := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		Expiry:       expiry,
	}
	return &TokenRefresher{source: oc.TokenSource(ctx, seed)}
}

// BearerToken returns a currently valid access token, refreshing it first if
// it has expired.
func (r *TokenRefresher) BearerToken() (string, error) {
	tok, err := r.source.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// oauthRoundTripper injects a fresh bearer token into every outgoing request,
// overriding whatever Authorization header the caller's http.Client would
// otherwise set from a static API key.
type oauthRoundTripper struct {
	refresher *TokenRefresher
	base      http.RoundTripper
}

func (rt *oauthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := rt.refresher.BearerToken()
	if err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	base := rt.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// WithOAuthTransport wraps client (or http.DefaultClient if nil) so every
// request carries a fresh bearer token from refresher instead of whatever
// static credential the caller configured.
func WithOAuthTransport(client *http.Client, refresher *TokenRefresher) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	out := *client
	out.Transport = &oauthRoundTripper{refresher: refresher, base: client.Transport}
	return &out
}
