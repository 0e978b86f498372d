// Package metadata records where a request came from: client address and
// user agent.
package metadata

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"alma/pkg/requestcontext"
)

// UnknownIP stands in when no usable address can be read.
const UnknownIP = "unknown"

// ClientMetadata puts the client IP and User-Agent in the context. The usage
// logger tags attribution channels from the User-Agent; the rate limiter
// keys anonymous callers by IP.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the socket peer. Header values that do not parse as an address are
// skipped so a client cannot choose an arbitrary bucket key.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	return UnknownIP
}

func parseIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
