package webhook

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// Target URL errors, returned to API clients verbatim.
var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrURLTooLong       = errors.New("URL too long")
	ErrInvalidScheme    = errors.New("only HTTPS allowed")
	ErrEmptyHost        = errors.New("URL must have a host")
	ErrLocalhostBlocked = errors.New("localhost not allowed")
	ErrInvalidPort      = errors.New("only port 443 allowed")
	ErrPrivateIP        = errors.New("private IP addresses not allowed")
)

const (
	maxTargetURLLength = 2048
	resolveTimeout     = 2 * time.Second
)

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Blocked reports whether addr is loopback, private, link-local or
// otherwise not publicly routable.
func Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// TargetPolicy decides which URLs may receive deliveries.
type TargetPolicy struct {
	// AllowInsecure accepts plain HTTP, any port and private hosts. Local
	// development only.
	AllowInsecure bool
	// Resolve looks up a hostname. Nil uses the system resolver.
	Resolve func(ctx context.Context, host string) ([]netip.Addr, error)
}

// Check validates target when an endpoint is created or edited. Hosts that
// do not resolve yet are accepted; the delivery client checks addresses
// again when it connects.
func (p TargetPolicy) Check(ctx context.Context, target string) error {
	if len(target) > maxTargetURLLength {
		return ErrURLTooLong
	}
	u, err := url.Parse(target)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "https" && !(p.AllowInsecure && u.Scheme == "http") {
		return ErrInvalidScheme
	}
	host := u.Hostname()
	if host == "" {
		return ErrEmptyHost
	}
	if p.AllowInsecure {
		return nil
	}

	if localName(host) {
		return ErrLocalhostBlocked
	}
	if port := u.Port(); port != "" && port != "443" {
		return ErrInvalidPort
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Unmap().IsLoopback() {
			return ErrLocalhostBlocked
		}
		if Blocked(addr) {
			return ErrPrivateIP
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	addrs, err := p.resolve(ctx, host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if Blocked(addr) {
			return ErrPrivateIP
		}
	}
	return nil
}

func (p TargetPolicy) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if p.Resolve != nil {
		return p.Resolve(ctx, host)
	}
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

func localName(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local")
}

// ExtractHost returns the host of a target URL for logging. Paths and
// queries may carry customer tokens and are never logged.
func ExtractHost(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "(invalid)"
	}
	return u.Host
}
