package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPResolver extracts the client address of a request. Forwarding headers
// are honoured only when the direct peer is a trusted proxy.
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver parses the trusted proxy CIDR ranges. Invalid ranges are skipped.
func NewIPResolver(trustedProxies []string) *IPResolver {
	r := &IPResolver{}
	for _, cidr := range trustedProxies {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		r.trusted = append(r.trusted, prefix.Masked())
	}
	return r
}

// ClientIP returns the client address for r.
//
// For a trusted peer the first valid X-Forwarded-For entry wins, then
// X-Real-IP. Anything else falls back to RemoteAddr.
func (r *IPResolver) ClientIP(req *http.Request) string {
	remote := remoteAddr(req)
	if r == nil || !r.isTrusted(remote) {
		return remote
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		for _, candidate := range strings.Split(xff, ",") {
			if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
				return addr.String()
			}
		}
	}
	if xri := strings.TrimSpace(req.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.String()
		}
	}
	return remote
}

func (r *IPResolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteAddr(req *http.Request) string {
	if req.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}
