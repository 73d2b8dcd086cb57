package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedNetworks はIdPへの外部通信でブロックされるネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// OutboundGuard はIdP（OIDCプロバイダー）への外部通信を保護する。
// ディスカバリ文書のjwks_uriやtoken_endpointは外部から与えられるため、
// 内部ネットワークやメタデータIPへの到達をDialerレベルで防ぐ。
type OutboundGuard struct {
	timeout time.Duration
}

// NewOutboundGuard はOutboundGuardを生成する。
func NewOutboundGuard(timeout time.Duration) *OutboundGuard {
	return &OutboundGuard{timeout: timeout}
}

// Client はSSRF防止機能付きのHTTPクライアントを返す。
// httpsの443番ポートのみ許可し、safeurlがDNS解決後のIPアドレスを検証する。
func (g *OutboundGuard) Client() *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(g.timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はIdPのURLを静的に検証する。
// httpsスキームであること、ホストがプライベートアドレスやlocalhostでないことを確認する。
// DNS再バインディングはClientが返すHTTPクライアント側で防止される。
func (g *OutboundGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %s (https required)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
