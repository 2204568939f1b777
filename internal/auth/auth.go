// Package auth gates the visualizer's WebSocket feed with a single shared
// bearer token, presented either as X-Internal-Token or as a standard
// Authorization: Bearer header. With no token configured the gate fails
// secure: every request is rejected.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Middleware gates requests to a single configured token.
type Middleware struct {
	token []byte
	log   *logrus.Entry
}

// NewMiddleware binds a gate to token. An empty token disables the feed
// entirely: IsEnabled reports false and every request is rejected. log may
// be nil, in which case rejected attempts are not logged.
func NewMiddleware(token string, log *logrus.Entry) *Middleware {
	return &Middleware{token: []byte(token), log: log}
}

// RequireAuth wraps an http.Handler, rejecting any request that does not
// carry the configured token.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return m.RequireAuthFunc(next.ServeHTTP)
}

// RequireAuthFunc wraps an http.HandlerFunc, rejecting any request that
// does not carry the configured token.
func (m *Middleware) RequireAuthFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(r) {
			if m.log != nil {
				m.log.WithField("remote_addr", r.RemoteAddr).Debug("visualizer request rejected: missing or invalid token")
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// authorized extracts the presented token, trying the internal-service
// header before the standard bearer header, and compares it against the
// configured one in constant time. A request with no token configured is
// always rejected, even if it presents one.
func (m *Middleware) authorized(r *http.Request) bool {
	if len(m.token) == 0 {
		return false
	}
	presented, ok := extractToken(r)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(presented, m.token) == 1
}

// extractToken pulls the caller's token out of the request, preferring the
// internal-service header over a standard Authorization: Bearer header.
func extractToken(r *http.Request) ([]byte, bool) {
	if v := r.Header.Get("X-Internal-Token"); v != "" {
		return []byte(v), true
	}
	auth := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(auth, " ")
	if !found || scheme != "Bearer" || value == "" {
		return nil, false
	}
	return []byte(value), true
}

// IsEnabled reports whether a token has been configured.
func (m *Middleware) IsEnabled() bool {
	return len(m.token) != 0
}
