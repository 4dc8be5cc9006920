package mw

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIP resolves the address a request comes from.
// Behind a trusted proxy (cloudflared, nginx) the forwarding headers win, in this order:
// CF-Connecting-IP, the left-most X-Forwarded-For entry, X-Real-IP. RemoteAddr otherwise.
func clientIP(r *http.Request, trustProxy bool) (netip.Addr, bool) {
	if trustProxy {
		for _, v := range []string{
			r.Header.Get("CF-Connecting-IP"),
			firstForwarded(r.Header.Get("X-Forwarded-For")),
			r.Header.Get("X-Real-IP"),
		} {
			if ip, ok := parseAddr(v); ok {
				return ip, true
			}
		}
	}
	return parseAddr(r.RemoteAddr)
}

func firstForwarded(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return first
}

// parseAddr accepts "ip", "ip:port" and "[v6]:port". IPv4-mapped IPv6 addresses are unmapped.
func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// prefixSet matches addresses against a list of single IPs and CIDRs.
type prefixSet []netip.Prefix

// parsePrefixes skips entries that are neither an IP nor a CIDR; the second return lists them.
func parsePrefixes(list []string) (prefixSet, []string) {
	var (
		set     prefixSet
		invalid []string
	)
	for _, raw := range list {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if p, err := netip.ParsePrefix(s); err == nil {
			set = append(set, p.Masked())
			continue
		}
		if ip, err := netip.ParseAddr(s); err == nil {
			ip = ip.Unmap()
			set = append(set, netip.PrefixFrom(ip, ip.BitLen()))
			continue
		}
		invalid = append(invalid, s)
	}
	return set, invalid
}

func (s prefixSet) contains(ip netip.Addr) bool {
	for _, p := range s {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
