package relay

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var metadataIP = net.ParseIP("169.254.169.254")

// CheckURL validates a relay address before it is dialed.
// Loopback is always allowed; private, link-local and metadata addresses are refused
// unless allowPrivate is set.
func CheckURL(ctx context.Context, raw string, allowPrivate bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}
	if allowPrivate || host == "localhost" {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if !isPublicIP(ip) {
			return fmt.Errorf("%w: %s", ErrUnsafeURL, host)
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		// unresolvable names are left to the dialer, except obviously internal ones
		if strings.HasSuffix(host, ".") || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
			return fmt.Errorf("%w: %s", ErrUnsafeURL, host)
		}
		return nil
	}
	for _, a := range addrs {
		if !isPublicIP(a.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrUnsafeURL, host, a.IP)
		}
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	switch {
	case ip == nil:
		return false
	case ip.IsLoopback():
		return true
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return false
	case ip.IsUnspecified(), ip.IsMulticast():
		return false
	case ip.Equal(metadataIP):
		return false
	}
	return true
}
