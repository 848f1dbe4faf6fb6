package webhook

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// Delivery client timeouts.
const (
	ClientTimeout         = 30 * time.Second
	DialTimeout           = 10 * time.Second
	TLSHandshakeTimeout   = 10 * time.Second
	ResponseHeaderTimeout = 15 * time.Second
)

// errBlockedAddress is returned when a target resolves to a private address
// at connect time.
var errBlockedAddress = errors.New("target resolved to a blocked address")

// NewHTTPClient builds the delivery client. Redirects are reported, never
// followed. Unless the policy allows insecure targets, connections to
// blocked addresses are refused after DNS resolution, so a hostname that
// was public at registration cannot be rebound to an internal service.
func NewHTTPClient(policy TargetPolicy) *http.Client {
	dialer := &net.Dialer{
		Timeout:   DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	if !policy.AllowInsecure {
		dialer.Control = refuseBlocked
	}

	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func refuseBlocked(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("parse dial address %q: %w", address, err)
	}
	if Blocked(ap.Addr()) {
		return errBlockedAddress
	}
	return nil
}
