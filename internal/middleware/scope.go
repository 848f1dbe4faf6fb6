package middleware

import (
	"net/http"

	"github.com/rankwatch/rankwatch/internal/auth"
	"github.com/rankwatch/rankwatch/internal/model"
)

// RequireScope admits principals holding any of the given scopes. Admin
// keys pass every check. It must run after Auth.
func RequireScope(anyOf ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			for _, scope := range anyOf {
				if p.HasScope(scope) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions. Required scope: "+anyOf[0])
		})
	}
}

// Single-scope guards used by the route table.
func RequireRead() func(http.Handler) http.Handler    { return RequireScope(model.ScopeRead) }
func RequireWrite() func(http.Handler) http.Handler   { return RequireScope(model.ScopeWrite) }
func RequireAdmin() func(http.Handler) http.Handler   { return RequireScope(model.ScopeAdmin) }
func RequireWebhook() func(http.Handler) http.Handler { return RequireScope(model.ScopeWebhook) }
