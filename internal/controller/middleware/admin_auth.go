package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AdminTokenHeader carries the operator secret for model registry writes.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken middleware ensures the request carries the operator secret.
// An empty secret disables the check.
func RequireAdminToken(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(AdminTokenHeader)
			if token == "" {
				writeError(w, http.StatusForbidden, "Forbidden", "missing "+AdminTokenHeader+" header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeError(w, http.StatusForbidden, "Forbidden", "invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
