// Package auth gates the mutating admin surface behind bearer capability
// tokens. Tokens map to roles; every admin entry point checks the role
// explicitly per call.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type Role string

const (
	// RoleAdmin may set market lines and exposure caps.
	RoleAdmin Role = "admin"
)

// Capabilities is a static token-to-role table.
type Capabilities struct {
	roles map[string]Role
}

// NewCapabilities grants RoleAdmin to each of the given tokens. Empty
// tokens are ignored so an unset env var yields a table that denies
// everything.
func NewCapabilities(adminTokens []string) *Capabilities {
	roles := make(map[string]Role)
	for _, t := range adminTokens {
		t = strings.TrimSpace(t)
		if t != "" {
			roles[t] = RoleAdmin
		}
	}
	return &Capabilities{roles: roles}
}

// Check reports whether the token carries the wanted role. Comparison is
// constant-time per candidate token.
func (c *Capabilities) Check(token string, want Role) bool {
	for candidate, role := range c.roles {
		if role != want {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// Require is HTTP middleware rejecting requests whose bearer token lacks
// the role.
func (c *Capabilities) Require(want Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || !c.Check(token, want) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "caller lacks required capability",
					"code":  "Unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
