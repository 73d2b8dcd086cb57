// Package session はHS256で署名したCookieによるセッション管理を提供する。
//
// セッションが保持するのは認証済みユーザーのメールアドレスのみで、
// サーバー側には何も永続化しない。
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName はセッションCookieの名前。
const CookieName = "session"

// Session はリクエスト単位のセッション状態。
type Session struct {
	// User は認証済みユーザーのメールアドレス。
	User string
}

// claims はセッションCookieに格納するJWTのクレーム。
// SubjectにユーザーのメールアドレスをUserとして格納する。
type claims struct {
	jwt.RegisteredClaims
}

// Config はセッションマネージャーの設定。
type Config struct {
	Secret       []byte
	MaxAge       int // Cookieの有効期間（秒）
	CookieDomain string
	CookieSecure bool
}

// Manager は署名付きCookieの発行・検証・破棄を行う。
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(config Config) (*Manager, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if config.MaxAge <= 0 {
		return nil, fmt.Errorf("session max age must be positive: %d", config.MaxAge)
	}
	return &Manager{config: config, now: time.Now}, nil
}

// Save はユーザーのセッションCookieを発行する。
func (m *Manager) Save(w http.ResponseWriter, user string) error {
	if user == "" {
		return errors.New("session user is required")
	}

	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(m.config.MaxAge) * time.Second)),
		},
	})

	signed, err := token.SignedString(m.config.Secret)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, m.cookie(signed, m.config.MaxAge))
	return nil
}

// Load はリクエストのCookieからセッションを復元する。
// Cookieが無い、署名が不正、期限切れのいずれの場合も未ログインとして扱う。
func (m *Manager) Load(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}

	c := &claims{}
	token, err := jwt.ParseWithClaims(cookie.Value, c, func(t *jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid || c.Subject == "" {
		return nil, false
	}

	return &Session{User: c.Subject}, true
}

// Clear はセッションCookieを破棄する。
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie("", -1))
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

type contextKey struct{}

// NewContext はセッションを格納したコンテキストを返す。
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext はコンテキストからセッションを取得する。
// 未ログインの場合はnilを返す。
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	if s == nil || s.User == "" {
		return nil
	}
	return s
}

// UserFromContext は認証済みユーザーのメールアドレスを返す。
func UserFromContext(ctx context.Context) (string, bool) {
	s := FromContext(ctx)
	if s == nil {
		return "", false
	}
	return s.User, true
}
