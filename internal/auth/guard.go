package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// TokenHeader is an alternative to "Authorization: Bearer".
const TokenHeader = "X-Ducker-Token"

// Guard protects the API with one shared token. A guard built from an empty
// token lets every request through.
type Guard struct {
	hash    [32]byte
	enabled bool
	log     *zap.Logger
}

func NewGuard(token string, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	token = strings.TrimSpace(token)
	g := &Guard{log: log, enabled: token != ""}
	if g.enabled {
		g.hash = sha256.Sum256([]byte(token))
	}
	return g
}

func (g *Guard) Enabled() bool {
	return g.enabled
}

// TokenFromRequest reads the bearer token, the TokenHeader, or the token
// query parameter. Browsers cannot set headers on an EventSource, so the
// event stream relies on the query form.
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if h := strings.TrimSpace(r.Header.Get(TokenHeader)); h != "" {
		return h
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (g *Guard) Authenticate(r *http.Request) bool {
	if !g.enabled {
		return true
	}
	tok := TokenFromRequest(r)
	if tok == "" {
		return false
	}
	sum := sha256.Sum256([]byte(tok))
	return subtle.ConstantTimeCompare(sum[:], g.hash[:]) == 1
}

// ProtectAPI rejects unauthenticated requests under /api/. Other paths
// (dashboard, static files, health checks) pass through.
func (g *Guard) ProtectAPI(next http.Handler) http.Handler {
	if !g.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || g.Authenticate(r) {
			next.ServeHTTP(w, r)
			return
		}
		g.log.Debug("unauthorized api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("WWW-Authenticate", `Bearer realm="ducker"`)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
	})
}

// GenerateToken returns a random URL-safe token suitable for server.token.
func GenerateToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
