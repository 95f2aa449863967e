package chatapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const apiKeyHeader = "X-API-Key"

// NewAuthMiddleware requires the API key as a bearer token or X-API-Key header.
// An empty key disables the check. An allowlist of CIDRs, when given, also
// restricts callers by address; loopback is always allowed.
func NewAuthMiddleware(apiKey, allowlist string) func(http.Handler) http.Handler {
	guard := &authMiddleware{key: apiKey, allowed: parseAllowlist(allowlist)}
	return guard.wrap
}

type authMiddleware struct {
	key     string
	allowed []*net.IPNet
}

func (m *authMiddleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.allowed) > 0 && !m.isAllowed(parseRemoteIP(r.RemoteAddr)) {
			RespondError(w, http.StatusForbidden, "FORBIDDEN_IP", "request IP not allowed")
			return
		}
		if m.key == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if provided == "" {
			provided = bearerToken(r.Header.Get("Authorization"))
		}
		if provided == "" {
			RespondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing api key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(m.key)) != 1 {
			RespondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *authMiddleware) isAllowed(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, network := range m.allowed {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func parseRemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(remoteAddr)
}

func parseAllowlist(raw string) []*net.IPNet {
	var networks []*net.IPNet
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			continue
		}
		networks = append(networks, network)
	}
	return networks
}

// bearerToken extracts the token portion from an Authorization header value.
func bearerToken(header string) string {
	v := strings.TrimSpace(header)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request.
func RequestLogger(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			entry := logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": rec.status,
				"dur":    time.Since(start).Round(time.Millisecond),
			})
			if rec.status >= 500 {
				entry.Warn("request")
				return
			}
			entry.Debug("request")
		})
	}
}
