package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP reports the caller's address. Behind chi's RealIP middleware
// RemoteAddr already carries the forwarded address; the headers are consulted
// for handlers mounted without it.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip, err := netip.ParseAddr(addr); err == nil && !ip.IsLoopback() {
		return ip.String()
	}
	for _, h := range []string{"X-Forwarded-For", "X-Real-IP"} {
		first, _, _ := strings.Cut(r.Header.Get(h), ",")
		if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return ip.String()
		}
	}
	return addr
}
