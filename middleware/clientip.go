package middleware

import (
	"net"
	"net/http"
	"strings"

	authcore "github.com/visaflow/authcore"
)

// ClientIPConfig controls proxy header trust. With no trusted proxies the
// remote socket address is authoritative and forwarding headers are ignored,
// they are trivially spoofable.
type ClientIPConfig struct {
	TrustedProxies []string
}

// ResolveClientIP extracts the caller's IP from a request. When the direct
// peer is a trusted proxy, the rightmost non-trusted entry of
// X-Forwarded-For wins; X-Real-Ip is honored next.
func ResolveClientIP(r *http.Request, cfg ClientIPConfig) string {
	remote := hostOnly(r.RemoteAddr)
	if len(cfg.TrustedProxies) == 0 || !containsIP(cfg.TrustedProxies, remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			ip := strings.TrimSpace(parts[i])
			if ip == "" || containsIP(cfg.TrustedProxies, ip) {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	if real := strings.TrimSpace(r.Header.Get("X-Real-Ip")); real != "" {
		if net.ParseIP(real) != nil {
			return real
		}
	}

	return remote
}

// WithClientIP resolves the caller's IP once per request and attaches it to
// the context for the Engine's audit events and rate keys.
func WithClientIP(cfg ClientIPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ResolveClientIP(r, cfg)
			next.ServeHTTP(w, r.WithContext(authcore.WithClientIP(r.Context(), ip)))
		})
	}
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func containsIP(list []string, ip string) bool {
	for _, entry := range list {
		if entry == ip {
			return true
		}
	}
	return false
}
