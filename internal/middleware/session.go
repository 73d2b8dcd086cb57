// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"net/http"

	"github.com/hitoshi/cloudstore/internal/session"
)

// SessionLoader はリクエストからセッションを読み取るインターフェース。
// session.Managerの部分集合として定義する。
type SessionLoader interface {
	Load(r *http.Request) (*session.Session, bool)
}

// NewSessionMiddleware はセッションCookieを読み取り、リクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストも拒否せずに通過させる。認証の要否はRequireUserで判定する。
func NewSessionMiddleware(loader SessionLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := loader.Load(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
		})
	}
}

// RequireUser は未認証リクエストをトップページへリダイレクトする。
// POSTは303、それ以外は307で返し、後続のハンドラーは呼ばない。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.UserFromContext(r.Context()); !ok {
			code := http.StatusTemporaryRedirect
			if r.Method == http.MethodPost {
				code = http.StatusSeeOther
			}
			http.Redirect(w, r, "/", code)
			return
		}
		next.ServeHTTP(w, r)
	})
}
