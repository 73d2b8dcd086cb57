package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig はOIDCBrokerの設定。
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// LogoutURL はCognitoのHosted UIのような独自形式のログアウトエンドポイント。
	// 設定された場合は client_id と logout_uri を付与して使用する。
	// 空の場合はディスカバリ文書の end_session_endpoint を使用する。
	LogoutURL             string
	PostLogoutRedirectURL string

	// HTTPClient はIdPへの通信に使用するクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// OIDCBroker はOIDCディスカバリ文書に基づいてBrokerを実装する。
//
// ディスカバリは初回利用時に行い、成功した結果のみをキャッシュする。
// 失敗した場合はそのリクエストのみがエラーとなり、次のリクエストで再試行される。
type OIDCBroker struct {
	config OIDCConfig

	mu          sync.Mutex
	provider    *oidc.Provider
	endSession  string
	oauthConfig *oauth2.Config
}

var _ Broker = (*OIDCBroker)(nil)

// providerMetadata はディスカバリ文書のうちgo-oidcが公開しない項目。
type providerMetadata struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// idTokenClaims はIDトークンから取り出すクレーム。
type idTokenClaims struct {
	Email string `json:"email"`
}

// NewOIDCBroker はOIDCBrokerを生成する。ネットワーク通信は行わない。
func NewOIDCBroker(config OIDCConfig) *OIDCBroker {
	if len(config.Scopes) == 0 {
		config.Scopes = []string{oidc.ScopeOpenID, "email"}
	}
	return &OIDCBroker{config: config}
}

// AuthCodeURL はIdPの認可エンドポイントへのURLを生成する。
func (b *OIDCBroker) AuthCodeURL(ctx context.Context, state, nonce string) (string, error) {
	_, conf, err := b.discover(ctx)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state, oidc.Nonce(nonce)), nil
}

// Exchange は認可コードをトークンに交換し、IDトークンの署名・発行者・audience・有効期限と
// nonceを検証してから、emailクレームを取り出す。
func (b *OIDCBroker) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	provider, conf, err := b.discover(ctx)
	if err != nil {
		return nil, err
	}

	token, err := conf.Exchange(b.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: b.config.ClientID})
	idToken, err := verifier.Verify(b.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id_token: %w", err)
	}

	if idToken.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse id_token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, ErrMissingEmail
	}

	return &Identity{Subject: idToken.Subject, Email: claims.Email}, nil
}

// LogoutURL はIdPのログアウトURLを返す。
// ログアウト先が決定できない場合はログアウト後のリダイレクト先をそのまま返す。
func (b *OIDCBroker) LogoutURL(ctx context.Context) string {
	if b.config.LogoutURL != "" {
		return withQuery(b.config.LogoutURL, url.Values{
			"client_id":  {b.config.ClientID},
			"logout_uri": {b.config.PostLogoutRedirectURL},
		})
	}

	if _, _, err := b.discover(ctx); err != nil {
		slog.Warn("oidc discovery failed while building logout URL",
			slog.String("error", err.Error()),
		)
		return b.config.PostLogoutRedirectURL
	}

	b.mu.Lock()
	endSession := b.endSession
	b.mu.Unlock()

	if endSession == "" {
		return b.config.PostLogoutRedirectURL
	}
	return withQuery(endSession, url.Values{
		"client_id":                {b.config.ClientID},
		"post_logout_redirect_uri": {b.config.PostLogoutRedirectURL},
	})
}

// discover はディスカバリ文書を取得し、結果をキャッシュする。
func (b *OIDCBroker) discover(ctx context.Context) (*oidc.Provider, *oauth2.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.provider != nil {
		return b.provider, b.oauthConfig, nil
	}

	provider, err := oidc.NewProvider(b.clientContext(ctx), b.config.IssuerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch oidc discovery metadata: %w", err)
	}

	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, nil, fmt.Errorf("failed to parse oidc discovery metadata: %w", err)
	}

	endpoint := provider.Endpoint()
	// client_secret_post: クライアント認証情報をフォームボディで送る
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	b.provider = provider
	b.endSession = meta.EndSessionEndpoint
	b.oauthConfig = &oauth2.Config{
		ClientID:     b.config.ClientID,
		ClientSecret: b.config.ClientSecret,
		RedirectURL:  b.config.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       b.config.Scopes,
	}

	slog.Info("oidc discovery completed",
		slog.String("issuer", b.config.IssuerURL),
	)
	return b.provider, b.oauthConfig, nil
}

func (b *OIDCBroker) clientContext(ctx context.Context) context.Context {
	if b.config.HTTPClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, b.config.HTTPClient)
}

// withQuery はrawURLの既存クエリを保ったままパラメータを追加する。
func withQuery(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
