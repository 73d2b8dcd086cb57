package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はオブジェクトストアへの疎通確認の上限時間。
const healthCheckTimeout = 3 * time.Second

// Pinger はバックエンドの疎通確認を行うインターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler はヘルスチェックハンドラーを返す。
// pingerがnilでなければバケットへの疎通を確認し、失敗時は503を返す。
// GET /health
func NewHealthHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")

		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("unavailable"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
