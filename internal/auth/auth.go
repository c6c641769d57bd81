// Package auth implements the shared-secret access gate: a single
// process-wide secret compared against a caller-supplied credential.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// DefaultEnvVar is the environment variable EnvSource reads when no name is set.
const DefaultEnvVar = "FENRIR_API_KEY"

// SecretSource yields the configured secret. ok is false when no secret is
// configured, which is distinct from a configured secret that does not match.
type SecretSource interface {
	Secret() (secret string, ok bool)
}

// EnvSource reads the secret from an environment variable on every call.
// An empty value counts as not configured.
type EnvSource struct {
	Name string
}

func (s EnvSource) Secret() (string, bool) {
	name := s.Name
	if name == "" {
		name = DefaultEnvVar
	}
	v := os.Getenv(name)
	return v, v != ""
}

// StaticSource is a fixed secret, mostly useful to library callers and tests.
type StaticSource string

func (s StaticSource) Secret() (string, bool) {
	return string(s), s != ""
}

// KeyringSource reads the secret from the OS keyring. The first successful
// lookup is cached for the life of the process.
type KeyringSource struct {
	Service string
	User    string

	mu     sync.Mutex
	cached string
}

func (s *KeyringSource) Secret() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" {
		return s.cached, true
	}
	v, err := keyring.Get(s.Service, s.User)
	if err != nil || v == "" {
		return "", false
	}
	s.cached = v
	return v, true
}

// Decision is the outcome of a credential check.
type Decision int

const (
	Allow Decision = iota
	// NotConfigured means the secret source has no secret.
	NotConfigured
	Unauthorized
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case NotConfigured:
		return "not_configured"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Gate decides whether requests may proceed. The zero value rejects
// everything as NotConfigured.
type Gate struct {
	Source SecretSource
	// Debug disables every check.
	Debug bool
	// Header, if set, names an alternate header (e.g. X-API-Key) accepted by
	// the app-wide check in place of basic auth.
	Header string
	// SkipPaths are extra path prefixes the app-wide check lets through.
	SkipPaths []string
}

func (g *Gate) secret() (string, bool) {
	if g.Source == nil {
		return "", false
	}
	return g.Source.Secret()
}

// CheckBearer checks an "Authorization: Bearer <secret>" header.
func (g *Gate) CheckBearer(r *http.Request) Decision {
	if g.Debug {
		return Allow
	}
	secret, ok := g.secret()
	if !ok {
		return NotConfigured
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || !equal(token, secret) {
		return Unauthorized
	}
	return Allow
}

// CheckApp checks the alternate header, then the basic-auth password. Any
// basic-auth username is accepted.
func (g *Gate) CheckApp(r *http.Request) Decision {
	if g.Debug {
		return Allow
	}
	secret, ok := g.secret()
	if !ok {
		return NotConfigured
	}
	if g.Header != "" {
		if v := r.Header.Get(g.Header); v != "" && equal(v, secret) {
			return Allow
		}
	}
	if _, password, ok := r.BasicAuth(); ok && equal(password, secret) {
		return Allow
	}
	return Unauthorized
}

// Skipped reports whether the app-wide check is bypassed for path.
func (g *Gate) Skipped(path string) bool {
	if path == "/" {
		return true
	}
	for _, prefix := range g.skipPrefixes() {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) skipPrefixes() []string {
	return append([]string{"/fenrir/", "/static/"}, g.SkipPaths...)
}

// RequireBearer guards next with CheckBearer. Failures are JSON bodies.
func (g *Gate) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch g.CheckBearer(r) {
		case Allow:
			next.ServeHTTP(w, r)
		case NotConfigured:
			writeJSONError(w, http.StatusUnauthorized, notConfiguredMessage(g.Source))
		default:
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		}
	})
}

// SecureHandler guards every path of next with CheckApp, except "/" and the
// skipped prefixes. A missing secret is 503, a bad credential 401 with a
// basic-auth challenge.
func (g *Gate) SecureHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Debug || g.Skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		switch g.CheckApp(r) {
		case Allow:
			next.ServeHTTP(w, r)
		case NotConfigured:
			http.Error(w, "Not configured", http.StatusServiceUnavailable)
		default:
			w.Header().Set("WWW-Authenticate", `Basic realm="Login"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
		}
	})
}

// notConfiguredMessage names the place the missing secret is read from.
func notConfiguredMessage(src SecretSource) string {
	switch s := src.(type) {
	case EnvSource:
		name := s.Name
		if name == "" {
			name = DefaultEnvVar
		}
		return name + " not configured"
	case *KeyringSource:
		return "keyring secret " + s.Service + "/" + s.User + " not configured"
	default:
		return "API secret not configured"
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
