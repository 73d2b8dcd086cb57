package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションのサブコマンド名を表す。
type Command string

const (
	// CommandServe はHTTPサーバーを起動する。引数なしの場合もこれを実行する。
	CommandServe Command = "serve"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// defaultPort はSERVER_PORT未設定時のポート。
const defaultPort = "8080"

// NewRootCommand はcloudstoreのcobraコマンドツリーを構築する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "cloudstore",
		Short:         "Per-user file storage on S3 behind OpenID Connect login",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), w)
		},
	}

	root.AddCommand(
		newServeCommand(w),
		newHealthcheckCommand(),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), w)
		},
	}
}

func newHealthcheckCommand() *cobra.Command {
	var (
		port      string
		targetURL string
	)

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local /health endpoint (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 軽量サブコマンドのため設定の完全な読み込みは行わない
			if targetURL == "" {
				targetURL = fmt.Sprintf("http://localhost:%s/health", port)
			}
			return runHealthcheck(cmd.Context(), targetURL)
		},
	}

	cmd.Flags().StringVar(&port, "port", envOrDefault("SERVER_PORT", defaultPort), "port of the local server")
	cmd.Flags().StringVar(&targetURL, "url", "", "full health check URL (overrides --port)")
	return cmd
}

func serve(ctx context.Context, w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)
	return runServe(ctx, cfg)
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
