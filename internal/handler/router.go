package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/cloudstore/internal/auth"
	"github.com/hitoshi/cloudstore/internal/metrics"
	"github.com/hitoshi/cloudstore/internal/middleware"
)

// SessionManager はセッションの読み書きを行うインターフェース。
type SessionManager interface {
	middleware.SessionLoader
	SessionWriter
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger   *slog.Logger
	Metrics  metrics.MetricsCollector
	Sessions SessionManager
	Broker   auth.Broker
	Files    FileService

	// Pinger は/healthでの疎通確認先。nilの場合は常に200を返す。
	Pinger Pinger
	// MetricsHandler は/metricsで公開するハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler

	CookieSecure      bool
	CookieDomain      string
	UploadMaxBytes    int64
	TrustProxyHeaders bool
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → (RealIP) → Session → Logging → SecurityHeaders
//
// 認証が必要なルートはRequireUserを経由し、未ログインならトップページへリダイレクトする。
// アップロードはRequireUserの後にCSRF検証を行う。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.NewSessionMiddleware(deps.Sessions))
	r.Use(middleware.NewLoggingMiddleware(logger, collector))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))

	csrf := middleware.NewCSRFMiddleware(middleware.CSRFConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	})
	fetchMetadata := middleware.NewFetchMetadataMiddleware()

	authHandler := NewAuthHandler(deps.Broker, deps.Sessions, collector, AuthHandlerConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	})
	fileHandler := NewFileHandler(deps.Files, FileHandlerConfig{
		UploadMaxBytes: deps.UploadMaxBytes,
	})

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.Pinger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.With(csrf).Get("/", fileHandler.Index)
	r.Get("/login", authHandler.Login)
	r.Get("/callback", authHandler.Callback)
	r.With(fetchMetadata).Get("/logout", authHandler.Logout)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)

		r.With(csrf).Post("/upload", fileHandler.Upload)
		r.Get("/download/*", fileHandler.Download)
		r.With(fetchMetadata).Get("/delete/*", fileHandler.Delete)
	})

	return r
}
