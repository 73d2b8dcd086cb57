// Package oidctest はテスト用のインプロセスOIDCプロバイダーを提供する。
//
// ディスカバリ、認可、トークン、JWKS、ログアウトの各エンドポイントを持ち、
// RS256で署名したIDトークンを発行する。
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyID = "oidctest-key"

type grant struct {
	email       string
	nonce       string
	redirectURI string
}

// Provider はテスト用OIDCプロバイダー。
type Provider struct {
	Server       *httptest.Server
	ClientID     string
	ClientSecret string

	key *rsa.PrivateKey

	mu          sync.Mutex
	email       string
	grants      map[string]grant
	tokenCalls  int
	discoveries int
	failToken   bool
	failDisco   bool
}

// New はプロバイダーを起動する。サーバーはテスト終了時に停止する。
func New(t testing.TB, clientID, clientSecret string) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	p := &Provider{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		email:        "user@example.com",
		key:          key,
		grants:       map[string]grant{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/authorize", p.handleAuthorize)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/jwks", p.handleJWKS)
	mux.HandleFunc("/logout", p.handleLogout)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// Issuer はプロバイダーの発行者URLを返す。
func (p *Provider) Issuer() string {
	return p.Server.URL
}

// SetEmail は認可エンドポイントが以降に発行するコードに紐づくユーザーを設定する。
func (p *Provider) SetEmail(email string) {
	p.mu.Lock()
	p.email = email
	p.mu.Unlock()
}

// IssueCode はemailとnonceに紐づく認可コードを登録して返す。
func (p *Provider) IssueCode(email, nonce string) string {
	code := randomString()
	p.mu.Lock()
	p.grants[code] = grant{email: email, nonce: nonce}
	p.mu.Unlock()
	return code
}

// SignIDToken は任意のクレームでIDトークンを署名する。
func (p *Provider) SignIDToken(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(p.key)
	if err != nil {
		panic(err)
	}
	return signed
}

// DefaultClaims は有効なIDトークンのクレームを返す。
func (p *Provider) DefaultClaims(email, nonce string) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   p.Issuer(),
		"sub":   "sub-" + email,
		"aud":   p.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": nonce,
	}
	if email != "" {
		claims["email"] = email
	}
	return claims
}

// TokenCalls はトークンエンドポイントの呼び出し回数を返す。
func (p *Provider) TokenCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls
}

// Discoveries はディスカバリ文書の取得回数を返す。
func (p *Provider) Discoveries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveries
}

// FailTokenRequests はトークンエンドポイントを500で失敗させる。
func (p *Provider) FailTokenRequests(fail bool) {
	p.mu.Lock()
	p.failToken = fail
	p.mu.Unlock()
}

// FailDiscovery はディスカバリ文書の取得を503で失敗させる。
func (p *Provider) FailDiscovery(fail bool) {
	p.mu.Lock()
	p.failDisco = fail
	p.mu.Unlock()
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.discoveries++
	fail := p.failDisco
	p.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	base := p.Issuer()
	writeJSON(w, map[string]interface{}{
		"issuer":                                base,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/jwks",
		"end_session_endpoint":                  base + "/logout",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
	})
}

// handleAuthorize はユーザー操作なしで即座にredirect_uriへコードを返す。
func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != p.ClientID || q.Get("response_type") != "code" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := randomString()
	p.mu.Lock()
	p.grants[code] = grant{email: p.email, nonce: q.Get("nonce"), redirectURI: redirectURI}
	p.mu.Unlock()

	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.tokenCalls++
	fail := p.failToken
	p.mu.Unlock()

	if fail {
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	// client_secret_post のみ受け付ける
	if r.PostForm.Get("client_id") != p.ClientID || r.PostForm.Get("client_secret") != p.ClientSecret {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}

	code := r.PostForm.Get("code")
	p.mu.Lock()
	g, ok := p.grants[code]
	delete(p.grants, code)
	p.mu.Unlock()
	if !ok || (g.redirectURI != "" && g.redirectURI != r.PostForm.Get("redirect_uri")) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	writeJSON(w, map[string]interface{}{
		"access_token": "access-" + code,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     p.SignIDToken(p.DefaultClaims(g.email, g.nonce)),
	})
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *Provider) handleLogout(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("post_logout_redirect_uri")
	if target == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func randomString() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
