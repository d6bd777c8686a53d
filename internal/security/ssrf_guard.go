// Package security はIdPとの通信とIdP由来データの取り扱いに関する防御機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はIdPのトークン・ユーザー情報エンドポイントへの通信を制限する。
type SSRFGuardService interface {
	// NewSafeClient は内部ネットワーク宛ての接続をダイアル時に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はIdPエンドポイントURLを起動時に静的検証する。
	ValidateURL(rawURL string) error
}

// トークン交換ではクライアントシークレットを送るため、平文HTTPは許可しない。
const idpScheme = "https"

var idpPorts = []int{443}

// blockedPrefixes は接続先として許可しないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドメタデータを含む
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

var blockedHostSuffixes = []string{"localhost", "internal", "local"}

// ErrBlockedEndpoint はIdPエンドポイントとして許可されないURLを表す。
var ErrBlockedEndpoint = errors.New("blocked identity provider endpoint")

// EndpointGuard はSSRFGuardServiceの実装。
type EndpointGuard struct{}

// NewEndpointGuard はEndpointGuardを生成する。
func NewEndpointGuard() *EndpointGuard {
	return &EndpointGuard{}
}

// NewSafeClient はsafeurlでラップしたクライアントを返す。
// 検証はDNS解決後のIPに対して行われるため、DNSリバインディングも防げる。
func (g *EndpointGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(idpScheme).
		SetAllowedPorts(idpPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はスキーム、ポート、ホストを検証する。DNS解決は行わない。
func (g *EndpointGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrBlockedEndpoint)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedEndpoint, err)
	}
	if !strings.EqualFold(u.Scheme, idpScheme) {
		return fmt.Errorf("%w: scheme %q is not https", ErrBlockedEndpoint, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrBlockedEndpoint)
	}
	if p := u.Port(); p != "" && p != "443" {
		return fmt.Errorf("%w: port %s", ErrBlockedEndpoint, p)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedEndpoint)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if blockedAddr(addr) {
			return fmt.Errorf("%w: address %s", ErrBlockedEndpoint, addr)
		}
		return nil
	}
	if blockedHost(host) {
		return fmt.Errorf("%w: host %s", ErrBlockedEndpoint, host)
	}
	return nil
}

func blockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func blockedHost(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	for _, s := range blockedHostSuffixes {
		if h == s || strings.HasSuffix(h, "."+s) {
			return true
		}
	}
	return false
}

var _ SSRFGuardService = (*EndpointGuard)(nil)
