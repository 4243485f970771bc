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

// SSRFGuardService は公開カレンダー（.ics）を取得する際のSSRF防止機能のインターフェース。
type SSRFGuardService interface {
	// NewSafeClient はプライベートIP、ループバック、リンクローカル、メタデータIPへの
	// 接続を拒否するHTTPクライアントを生成する。DNS解決後のIPも検証される。
	NewSafeClient(timeout time.Duration) *http.Client

	// NormalizeURL はwebcal:// をhttps:// に置き換え、安全性を事前に検証したURLを返す。
	NormalizeURL(rawURL string) (string, error)

	// ValidateURL はURLのスキーム、ホスト、IPアドレスを静的に検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes は取得を許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は静的検証でブロックするネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// RFC 1918
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// リンクローカル（169.254.169.254を含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		// CGNAT (RFC 6598)
		"100.64.0.0/10",
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

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlで保護されたHTTPクライアントを生成する。
// 許可ポートは80と443のみ。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

func (g *ssrfGuard) NormalizeURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if lower := strings.ToLower(trimmed); strings.HasPrefix(lower, "webcal://") {
		trimmed = "https://" + trimmed[len("webcal://"):]
	}
	if err := g.ValidateURL(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// DNS再バインディングはNewSafeClientのDialer側で防止される。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return &BlockedAddressError{Host: ip.String()}
		}
		return nil
	}

	if isBlockedHostname(host) {
		return &BlockedAddressError{Host: host}
	}
	return nil
}

// BlockedAddressError は内部ネットワークを指すURLが拒否されたことを表す。
type BlockedAddressError struct {
	Host string
}

func (e *BlockedAddressError) Error() string {
	return "blocked host: " + e.Host
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname はlocalhostおよびそのサブドメインを拒否する。
func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost")
}
