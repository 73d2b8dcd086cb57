package auth

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/cloudstore/internal/auth/oidctest"
)

const (
	testClientID     = "cloudstore-client"
	testClientSecret = "cloudstore-secret"
	testRedirectURL  = "http://localhost:8080/callback"
	testBaseURL      = "http://localhost:8080"
)

func newTestBroker(t *testing.T, p *oidctest.Provider) *OIDCBroker {
	t.Helper()
	return NewOIDCBroker(OIDCConfig{
		IssuerURL:             p.Issuer(),
		ClientID:              testClientID,
		ClientSecret:          testClientSecret,
		RedirectURL:           testRedirectURL,
		PostLogoutRedirectURL: testBaseURL,
		HTTPClient:            p.Server.Client(),
	})
}

func TestOIDCBroker_AuthCodeURL(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)

	raw, err := b.AuthCodeURL(context.Background(), "state-1", "nonce-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, p.Issuer()+"/authorize", u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Equal(t, "openid email", q.Get("scope"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, testRedirectURL, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
}

func TestOIDCBroker_CustomScopes(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := NewOIDCBroker(OIDCConfig{
		IssuerURL:  p.Issuer(),
		ClientID:   testClientID,
		Scopes:     []string{"openid", "email", "profile"},
		HTTPClient: p.Server.Client(),
	})

	raw, err := b.AuthCodeURL(context.Background(), "s", "n")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "openid email profile", u.Query().Get("scope"))
}

func TestOIDCBroker_Exchange(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)

	code := p.IssueCode("alice@example.com", "nonce-1")
	identity, err := b.Exchange(context.Background(), code, "nonce-1")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, "sub-alice@example.com", identity.Subject)
	assert.Equal(t, 1, p.TokenCalls())
}

func TestOIDCBroker_Exchange_NonceMismatch(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)

	code := p.IssueCode("alice@example.com", "nonce-from-elsewhere")
	_, err := b.Exchange(context.Background(), code, "nonce-1")
	assert.ErrorIs(t, err, ErrNonceMismatch)
}

func TestOIDCBroker_Exchange_MissingEmail(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)

	code := p.IssueCode("", "nonce-1")
	_, err := b.Exchange(context.Background(), code, "nonce-1")
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestOIDCBroker_Exchange_UnknownCode(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)

	_, err := b.Exchange(context.Background(), "no-such-code", "nonce-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to exchange authorization code")
}

func TestOIDCBroker_Exchange_WrongClientSecret(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := NewOIDCBroker(OIDCConfig{
		IssuerURL:    p.Issuer(),
		ClientID:     testClientID,
		ClientSecret: "wrong",
		RedirectURL:  testRedirectURL,
		HTTPClient:   p.Server.Client(),
	})

	code := p.IssueCode("alice@example.com", "nonce-1")
	_, err := b.Exchange(context.Background(), code, "nonce-1")
	require.Error(t, err)
}

func TestOIDCBroker_Exchange_TokenEndpointFailure(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)
	p.FailTokenRequests(true)

	code := p.IssueCode("alice@example.com", "nonce-1")
	_, err := b.Exchange(context.Background(), code, "nonce-1")
	require.Error(t, err)
}

func TestOIDCBroker_DiscoveryFailureIsNotCached(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)

	p.FailDiscovery(true)
	_, err := b.AuthCodeURL(context.Background(), "s", "n")
	require.Error(t, err)

	p.FailDiscovery(false)
	_, err = b.AuthCodeURL(context.Background(), "s", "n")
	require.NoError(t, err)

	// 成功後はキャッシュが使われる
	_, err = b.AuthCodeURL(context.Background(), "s", "n")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Discoveries())
}

func TestOIDCBroker_LogoutURL_EndSessionEndpoint(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)

	raw := b.LogoutURL(context.Background())
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, p.Issuer()+"/logout?"))
	assert.Equal(t, testClientID, u.Query().Get("client_id"))
	assert.Equal(t, testBaseURL, u.Query().Get("post_logout_redirect_uri"))
}

func TestOIDCBroker_LogoutURL_Configured(t *testing.T) {
	b := NewOIDCBroker(OIDCConfig{
		IssuerURL:             "https://issuer.invalid",
		ClientID:              testClientID,
		LogoutURL:             "https://auth.example.com/logout",
		PostLogoutRedirectURL: testBaseURL,
	})

	raw := b.LogoutURL(context.Background())
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "auth.example.com", u.Host)
	assert.Equal(t, "/logout", u.Path)
	assert.Equal(t, testClientID, u.Query().Get("client_id"))
	assert.Equal(t, testBaseURL, u.Query().Get("logout_uri"))
}

func TestOIDCBroker_LogoutURL_DiscoveryFailure(t *testing.T) {
	p := oidctest.New(t, testClientID, testClientSecret)
	b := newTestBroker(t, p)
	p.FailDiscovery(true)

	assert.Equal(t, testBaseURL, b.LogoutURL(context.Background()))
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken()
	require.NoError(t, err)
	b, err := RandomToken()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestWithQuery_PreservesExistingParams(t *testing.T) {
	got := withQuery("https://idp.example.com/logout?lang=ja", url.Values{"client_id": {"c"}})
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "ja", u.Query().Get("lang"))
	assert.Equal(t, "c", u.Query().Get("client_id"))
}
