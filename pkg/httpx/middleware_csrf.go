package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// CSRFHeader carries the anti-forgery token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFVerifier reports whether token is the CSRF token issued to p.
type CSRFVerifier func(p Principal, token string) bool

// RequireCSRF rejects unsafe requests authenticated by a cookie unless they
// carry a valid CSRF header. Header credentials cannot be attached by a
// foreign site, so those requests pass unchecked. It must run after
// AuthnMiddleware.
func RequireCSRF(verify CSRFVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			p, ok := PrincipalFromContext(r.Context())
			if !ok || !p.Cookie {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(CSRFHeader)
			if token == "" {
				slogx.FromContext(r.Context()).Warn("CSRF verification failed", "reason", "missing header")
				WriteCSRFError(w, "CSRF token required in "+CSRFHeader+" header")
				return
			}
			if !verify(p, token) {
				slogx.FromContext(r.Context()).Warn("CSRF verification failed", "reason", "mismatch")
				WriteCSRFError(w, "invalid CSRF token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteCSRFError writes a 403 invalid_csrf response.
func WriteCSRFError(w http.ResponseWriter, desc string) {
	WriteJSON(w, http.StatusForbidden, map[string]string{
		"error":             "invalid_csrf",
		"error_description": desc,
	})
}
