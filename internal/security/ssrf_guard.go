package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// 保存済み画像の公開URLを取得する際に使用される。
type SSRFGuardService interface {
	// NewSafeClient はプライベートIPやメタデータIPへの接続を拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はURLの安全性を接続前に静的に検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes はSSRF防止で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLで拒否するネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"100.64.0.0/10",  // CGNAT (RFC 6598)
	"127.0.0.0/8",    // ループバック
	"169.254.0.0/16", // リンクローカル。クラウドメタデータIPを含む
	"0.0.0.0/8",      // カレントネットワーク
	"::1/128",        // IPv6ループバック
	"fe80::/10",      // IPv6リンクローカル
	"fc00::/7",       // IPv6ユニークローカル
)

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// ssrfGuard はSSRFGuardServiceの実装。
// allowedHostsが空でない場合は、そのホスト以外への接続も拒否する。
type ssrfGuard struct {
	allowedHosts []string
}

var _ SSRFGuardService = (*ssrfGuard)(nil)

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
// allowedHostsには画像の公開URLのホスト（オブジェクトストレージのCDNなど）を指定する。
// 空のホスト名は無視する。
func NewSSRFGuard(allowedHosts ...string) *ssrfGuard {
	g := &ssrfGuard{}
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			g.allowedHosts = append(g.allowedHosts, h)
		}
	}
	return g
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはDNS解決後のIPアドレスをDialerで検証する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	builder := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443)
	if len(g.allowedHosts) > 0 {
		builder = builder.SetAllowedHosts(g.allowedHosts...)
	}

	return safeurl.Client(builder.Build()).Client
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わないため、DNS再バインディングはNewSafeClient側で防ぐ。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return fmt.Errorf("blocked IP address: %s", ip.String())
	}
	if slices.Contains(blockedHostnames, host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	if len(g.allowedHosts) > 0 && !slices.Contains(g.allowedHosts, host) {
		return fmt.Errorf("host not in allow list: %s", host)
	}

	return nil
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
