package auth

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address. X-Forwarded-For is consulted only
// behind a trusted reverse proxy, and then only its last hop, which is the
// address that proxy itself accepted the connection from.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			last := strings.TrimSpace(hops[len(hops)-1])
			if net.ParseIP(strings.Trim(last, "[]")) != nil {
				return strings.Trim(last, "[]")
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
