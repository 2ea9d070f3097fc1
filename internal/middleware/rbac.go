package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/point-ledger/internal/api/httpx"
	"github.com/baharkarakas/point-ledger/internal/auth"
)

// RequireOwner lets a request through when the authenticated user id equals the
// {param} URL parameter, or when the caller has one of the bypass roles.
func RequireOwner(param string, bypassRoles ...string) func(http.Handler) http.Handler {
	if len(bypassRoles) == 0 {
		bypassRoles = []string{auth.RoleAdmin}
	}
	bypass := map[string]struct{}{}
	for _, r := range bypassRoles {
		bypass[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := UserID(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing identity", nil)
				return
			}
			if role, _ := Role(r.Context()); role != "" {
				if _, ok := bypass[role]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			if uid != chi.URLParam(r, param) {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "cannot access another user's points", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
