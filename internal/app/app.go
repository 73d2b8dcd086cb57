// Package app は設定の読み込みから依存関係の組み立て、HTTPサーバーの起動までを担う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/cloudstore/internal/auth"
	"github.com/hitoshi/cloudstore/internal/config"
	"github.com/hitoshi/cloudstore/internal/files"
	"github.com/hitoshi/cloudstore/internal/handler"
	"github.com/hitoshi/cloudstore/internal/logger"
	"github.com/hitoshi/cloudstore/internal/metrics"
	"github.com/hitoshi/cloudstore/internal/security"
	"github.com/hitoshi/cloudstore/internal/session"
	"github.com/hitoshi/cloudstore/internal/storage"
)

const (
	// idpHTTPTimeout はIdPへのHTTP通信のタイムアウト。
	idpHTTPTimeout = 10 * time.Second
	// shutdownTimeout はグレースフルシャットダウンの猶予。
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから設定を読み込み、LOG_LEVELに従ってログレベルを再設定する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// BuildHandler は設定から全依存関係をワイヤリングし、ルーターを返す。
// IdPへのディスカバリは初回ログイン時まで行わない。
func BuildHandler(ctx context.Context, cfg *config.Config) (http.Handler, error) {
	// 1. オブジェクトストア
	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.AWSRegion,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		ForcePathStyle:  cfg.S3ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. ファイルサービス
	fileService := files.NewService(store, collector, files.Config{
		DownloadURLTTL: cfg.DownloadURLTTL,
	})

	// 4. IdP
	var idpClient *http.Client
	if cfg.IdPHTTPGuard {
		guard := security.NewOutboundGuard(idpHTTPTimeout)
		if err := guard.ValidateURL(cfg.OIDCIssuerURL); err != nil {
			return nil, fmt.Errorf("OIDC_ISSUER_URL rejected by outbound guard: %w", err)
		}
		idpClient = guard.Client()
	} else {
		idpClient = &http.Client{Timeout: idpHTTPTimeout}
	}

	broker := auth.NewOIDCBroker(auth.OIDCConfig{
		IssuerURL:             cfg.OIDCIssuerURL,
		ClientID:              cfg.OIDCClientID,
		ClientSecret:          cfg.OIDCClientSecret,
		RedirectURL:           cfg.OIDCRedirectURL,
		Scopes:                cfg.OIDCScopes,
		LogoutURL:             cfg.OIDCLogoutURL,
		PostLogoutRedirectURL: cfg.OIDCPostLogoutRedirectURL,
		HTTPClient:            idpClient,
	})

	// 5. セッション
	sessions, err := session.NewManager(session.Config{
		Secret:       []byte(cfg.SessionSecret),
		MaxAge:       cfg.SessionMaxAge,
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	// 6. ルーター
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		Sessions:          sessions,
		Broker:            broker,
		Files:             fileService,
		Pinger:            store,
		MetricsHandler:    metrics.Handler(registry),
		CookieSecure:      cfg.CookieSecure,
		CookieDomain:      cfg.CookieDomain,
		UploadMaxBytes:    cfg.UploadMaxBytes,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}), nil
}

// newHTTPServer はHTTPサーバーを構成する。
// アップロードは長時間になりうるため、ボディ読み込みには上限を設けずヘッダーのみ制限する。
func newHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

// runServe はHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するか、ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := BuildHandler(ctx, cfg)
	if err != nil {
		return err
	}

	server := newHTTPServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
			slog.String("base_url", cfg.BaseURL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("invalid health check URL: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
