package middleware

import (
	"log/slog"
	"net/http"
)

// NewFetchMetadataMiddleware はSec-Fetch-Siteがcross-siteのリクエストを403で拒否する。
// GETで状態を変更するエンドポイント（削除、ログアウト）に適用する。
// ヘッダーを送らない古いブラウザからのリクエストは通過させる。
func NewFetchMetadataMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
				slog.Warn("cross-site request rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				http.Error(w, "cross-site request rejected", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
