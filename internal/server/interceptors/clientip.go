package interceptors

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPMiddleware stores the client IP in the request context. When trustProxy is
// set, the first X-Forwarded-For entry or X-Real-IP wins over the peer address.
func ClientIPMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r, trustProxy)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func remoteIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if s := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); s != "" {
			if i := strings.Index(s, ","); i > 0 {
				s = strings.TrimSpace(s[:i])
			}
			return s
		}
		if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
			return s
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
