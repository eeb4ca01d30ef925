// Package auth guards the live-tail server with a shared access token.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const MinTokenLength = 36

// Auth compares presented tokens against the configured one. Only the
// token's hash is kept in memory.
type Auth struct {
	hashed  [sha256.Size]byte
	enabled bool
}

// New returns an Auth for token. An empty token disables authentication.
func New(token string) (*Auth, error) {
	if token == "" {
		return &Auth{}, nil
	}
	if len(token) < MinTokenLength {
		return nil, fmt.Errorf("token must be at least %d characters long", MinTokenLength)
	}
	return &Auth{hashed: sha256.Sum256([]byte(token)), enabled: true}, nil
}

func (a *Auth) Enabled() bool {
	return a.enabled
}

// Check reports whether token matches. Always true when disabled.
func (a *Auth) Check(token string) bool {
	if !a.enabled {
		return true
	}
	hash := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(hash[:], a.hashed[:]) == 1
}

// FromRequest extracts a bearer token, falling back to the token query
// parameter for EventSource and websocket clients that cannot set headers.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	if !a.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(FromRequest(r)) {
			slog.Debug("Rejected request with invalid token", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="scripthost"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GenerateToken returns a random token suitable for New.
func GenerateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
