// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/cloudstore/internal/auth"
	"github.com/hitoshi/cloudstore/internal/metrics"
	"github.com/hitoshi/cloudstore/internal/middleware"
)

const (
	oauthStateCookie = "oauth_state"
	oauthNonceCookie = "oauth_nonce"

	// oauthCookieMaxAge はログイン開始からコールバックまでの猶予（秒）。
	oauthCookieMaxAge = 600
)

// SessionWriter はセッションの保存と破棄を行うインターフェース。
// session.Managerの部分集合として定義する。
type SessionWriter interface {
	Save(w http.ResponseWriter, user string) error
	Clear(w http.ResponseWriter)
}

// LoginRecorder はログイン結果の記録先。
type LoginRecorder interface {
	RecordLogin(result string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	CookieDomain string
}

// AuthHandler はOIDCログイン関連のHTTPハンドラー。
type AuthHandler struct {
	broker   auth.Broker
	sessions SessionWriter
	logins   LoginRecorder
	pages    *renderer
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(broker auth.Broker, sessions SessionWriter, logins LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	if logins == nil {
		logins = metrics.Nop{}
	}
	return &AuthHandler{
		broker:   broker,
		sessions: sessions,
		logins:   logins,
		pages:    mustRenderer(),
		config:   config,
	}
}

// Login はIdPの認可エンドポイントへリダイレクトする。
// GET /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := auth.RandomToken()
	if err != nil {
		h.internalError(w, r, "failed to generate oauth state", err)
		return
	}
	nonce, err := auth.RandomToken()
	if err != nil {
		h.internalError(w, r, "failed to generate oidc nonce", err)
		return
	}

	authURL, err := h.broker.AuthCodeURL(r.Context(), state, nonce)
	if err != nil {
		h.internalError(w, r, "failed to build authorization URL", err)
		return
	}

	http.SetCookie(w, h.oauthCookie(oauthStateCookie, state, oauthCookieMaxAge))
	http.SetCookie(w, h.oauthCookie(oauthNonceCookie, nonce, oauthCookieMaxAge))
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はIdPからのリダイレクトを処理し、セッションを確立する。
// GET /callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// state・nonceは1回限り
	http.SetCookie(w, h.oauthCookie(oauthStateCookie, "", -1))
	http.SetCookie(w, h.oauthCookie(oauthNonceCookie, "", -1))

	if idpErr := q.Get("error"); idpErr != "" {
		slog.Warn("identity provider returned an error",
			slog.String("error", idpErr),
			slog.String("error_description", q.Get("error_description")),
		)
		h.logins.RecordLogin(metrics.ResultFailure)
		h.pages.renderError(w, r, http.StatusBadRequest, "Login was not completed.")
		return
	}

	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		h.logins.RecordLogin(metrics.ResultFailure)
		h.pages.renderError(w, r, http.StatusBadRequest, "Invalid login state. Please try again.")
		return
	}

	nonceCookie, err := r.Cookie(oauthNonceCookie)
	if err != nil || nonceCookie.Value == "" {
		slog.Warn("oidc nonce cookie missing")
		h.logins.RecordLogin(metrics.ResultFailure)
		h.pages.renderError(w, r, http.StatusBadRequest, "Invalid login state. Please try again.")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.logins.RecordLogin(metrics.ResultFailure)
		h.pages.renderError(w, r, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	identity, err := h.broker.Exchange(r.Context(), code, nonceCookie.Value)
	if err != nil {
		h.logins.RecordLogin(metrics.ResultFailure)
		h.internalError(w, r, "oidc callback failed", err)
		return
	}

	if err := h.sessions.Save(w, identity.Email); err != nil {
		h.logins.RecordLogin(metrics.ResultFailure)
		h.internalError(w, r, "failed to save session", err)
		return
	}

	h.clearCSRFToken(w)
	h.logins.RecordLogin(metrics.ResultSuccess)
	slog.Info("user logged in",
		slog.String("user", identity.Email),
		slog.String("subject", identity.Subject),
	)
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄し、IdPのログアウトエンドポイントへリダイレクトする。
// 未ログインでも同様に振る舞う。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	h.clearCSRFToken(w)
	http.Redirect(w, r, h.broker.LogoutURL(r.Context()), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) clearCSRFToken(w http.ResponseWriter) {
	middleware.ClearCSRFCookie(w, middleware.CSRFConfig{
		CookieSecure: h.config.CookieSecure,
		CookieDomain: h.config.CookieDomain,
	})
}

func (h *AuthHandler) oauthCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg,
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	h.pages.renderError(w, r, http.StatusInternalServerError, "Something went wrong. Please try again later.")
}
