// Package httputil holds request helpers shared by the API and stream handlers.
package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address that per-client limits are keyed on. With
// trustProxy set, the leftmost X-Forwarded-For hop and then X-Real-IP are
// used when they parse as addresses; otherwise, or when neither does, the
// host part of RemoteAddr is returned. Enable trustProxy only behind a proxy
// that overwrites these headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := parseHop(first); ok {
				return ip
			}
		}
		if ip, ok := parseHop(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseHop accepts a bare address or address:port and returns the address in
// canonical form. IPv4-mapped IPv6 addresses are unmapped.
func parseHop(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().String(), true
	}
	if a, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return a.Unmap().String(), true
	}
	return "", false
}
