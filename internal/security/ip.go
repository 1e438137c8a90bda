// Package security provides the abuse-protection primitives for the server:
// client IP extraction, the failed-password lockout guard, per-IP request
// rate limiting, and security audit logging.
package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP address for a request.
//
// When trustProxy is enabled the X-Forwarded-For and X-Real-IP headers are
// consulted first, falling back to the transport-level peer address. Only
// enable trustProxy when a trusted reverse proxy strips or overwrites these
// headers; otherwise the lockout key is spoofable.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor parses an X-Forwarded-For header of the form
// "client, proxy1, proxy2" and returns the client entry, counting
// trustedProxyCount proxies from the right.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	proxies := trustedProxyCount
	if proxies == 0 {
		proxies = 1
	}

	idx := len(ips) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}

// ipFromRemoteAddr strips the port from a host:port peer address.
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
