// Package config は環境変数と.envファイルからアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultEnvFile は起動時に読み込む.envファイルのパス。
const DefaultEnvFile = ".env"

// minSessionSecretLen はセッション署名鍵の最小バイト数。
const minSessionSecretLen = 32

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Object Store
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string
	S3Endpoint         string
	S3ForcePathStyle   bool

	// OIDC
	OIDCIssuerURL             string
	OIDCClientID              string
	OIDCClientSecret          string
	OIDCRedirectURL           string
	OIDCLogoutURL             string
	OIDCPostLogoutRedirectURL string
	OIDCScopes                []string
	IdPHTTPGuard              bool

	// Session
	SessionSecret string
	SessionMaxAge int

	// Files
	DownloadURLTTL time.Duration
	UploadMaxBytes int64

	// Server
	ServerPort         string
	ServerWriteTimeout time.Duration
	BaseURL            string
	TrustProxyHeaders  bool

	// Cookie
	CookieSecure bool
	CookieDomain string

	// Logging
	LogLevel string
}

// Load は環境変数とカレントディレクトリの.envファイルからConfigを読み込む。
func Load() (*Config, error) {
	return LoadFrom(DefaultEnvFile)
}

// LoadFrom は指定された.envファイルと環境変数からConfigを読み込む。
// ファイルが存在しない場合は環境変数のみを使用する。
// 同じキーが両方にある場合は環境変数が優先される。
// 必須項目が未設定の場合はエラーを返す。
func LoadFrom(envFile string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		val := strings.TrimSpace(v.GetString(key))
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	cfg.AWSRegion = required("AWS_REGION")
	cfg.S3Bucket = required("S3_BUCKET_NAME")
	cfg.OIDCIssuerURL = required("OIDC_ISSUER_URL")
	cfg.OIDCClientID = required("OIDC_CLIENT_ID")
	cfg.OIDCClientSecret = required("OIDC_CLIENT_SECRET")
	cfg.OIDCRedirectURL = required("OIDC_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AWSAccessKeyID = getString(v, "AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getString(v, "AWS_SECRET_ACCESS_KEY", "")
	cfg.S3Endpoint = getString(v, "S3_ENDPOINT", "")
	cfg.S3ForcePathStyle = getBool(v, "S3_FORCE_PATH_STYLE", false)
	cfg.OIDCLogoutURL = getString(v, "OIDC_LOGOUT_URL", "")
	cfg.OIDCPostLogoutRedirectURL = getString(v, "OIDC_POST_LOGOUT_REDIRECT_URL", cfg.BaseURL)
	cfg.OIDCScopes = strings.Fields(getString(v, "OIDC_SCOPES", "openid email"))
	cfg.IdPHTTPGuard = getBool(v, "IDP_HTTP_GUARD", true)
	cfg.SessionMaxAge = getInt(v, "SESSION_MAX_AGE", 86400)
	cfg.DownloadURLTTL = getDuration(v, "DOWNLOAD_URL_TTL", 5*time.Minute)
	cfg.UploadMaxBytes = getInt64(v, "UPLOAD_MAX_BYTES", 0)
	cfg.ServerPort = getString(v, "SERVER_PORT", "8080")
	cfg.ServerWriteTimeout = getDuration(v, "SERVER_WRITE_TIMEOUT", 0)
	cfg.TrustProxyHeaders = getBool(v, "TRUST_PROXY_HEADERS", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getString(v, "COOKIE_DOMAIN", "")
	cfg.LogLevel = getString(v, "LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値の組み合わせを検証する。
func (c *Config) validate() error {
	if (c.AWSAccessKeyID != "") != (c.AWSSecretAccessKey != "") {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	if len(c.SessionSecret) < minSessionSecretLen {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}
	for key, raw := range map[string]string{
		"OIDC_ISSUER_URL":               c.OIDCIssuerURL,
		"OIDC_REDIRECT_URL":             c.OIDCRedirectURL,
		"OIDC_POST_LOGOUT_REDIRECT_URL": c.OIDCPostLogoutRedirectURL,
		"BASE_URL":                      c.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL: %q", key, raw)
		}
	}
	if c.DownloadURLTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_URL_TTL must be positive")
	}
	return nil
}

func getString(v *viper.Viper, key, defaultVal string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return defaultVal
}

func getBool(v *viper.Viper, key string, defaultVal bool) bool {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

func getInt(v *viper.Viper, key string, defaultVal int) int {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return i
}

func getInt64(v *viper.Viper, key string, defaultVal int64) int64 {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

// getDuration はtime.ParseDuration形式の値を読み込む。
// 単位のない整数は秒として扱う。
func getDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
