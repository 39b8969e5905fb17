package middleware

import (
	"net"
	"net/http"
)

// ClientIP extracts the caller's address for rate limiting and the
// security trail. chi's RealIP middleware rewrites RemoteAddr from proxy
// headers upstream of this; here we only strip the port when one is
// present.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
