package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// localhostPorts are the dev-server ports accepted regardless of FRONTEND_URL.
var localhostPorts = map[string]bool{
	"3000": true,
	"5173": true,
	"8080": true,
}

// OriginAllowed reports whether origin may call the gateway. Allowed origins
// are the configured frontend URL, localhost dev servers, private-LAN hosts,
// and Railway deployment domains.
func OriginAllowed(frontendURL, origin string) bool {
	if origin == "" {
		return false
	}
	if frontendURL != "" && strings.TrimSuffix(origin, "/") == strings.TrimSuffix(frontendURL, "/") {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()

	if host == "localhost" || host == "127.0.0.1" {
		return localhostPorts[u.Port()]
	}

	if ip := net.ParseIP(host); ip != nil && ip.IsPrivate() {
		return true
	}

	return strings.HasSuffix(host, ".railway.app") || strings.HasSuffix(host, ".up.railway.app")
}

// CORS validates the request Origin against the gateway's origin policy.
// Disallowed origins get no CORS headers and a warning log line.
func CORS(frontendURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := OriginAllowed(frontendURL, origin)

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "300")
			} else if origin != "" {
				slog.Warn("cors: rejected origin", "origin", origin)
			}

			if r.Method == http.MethodOptions {
				if allowed {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
