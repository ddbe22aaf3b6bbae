package middleware

import (
	"errors"
	"net/http"

	authcore "github.com/visaflow/authcore"
)

// CSRF runs the engine's cross-site request guard. Rejections are a bare
// 403; the reason is recorded in the audit trail, never sent to the client.
func CSRF(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.ProtectRequest(r.Context(), r); err != nil {
				if errors.Is(err, authcore.ErrCSRFRejected) {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
