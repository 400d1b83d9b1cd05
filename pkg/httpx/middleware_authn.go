package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// Authenticator resolves the caller of r. Any error means 401.
type Authenticator func(r *http.Request) (Principal, error)

// AuthnMiddleware rejects requests the authenticator cannot resolve and
// attaches the principal to the context of the rest.
func AuthnMiddleware(authn Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			p, err := authn(r)
			if err != nil {
				// The reason is logged, never returned.
				slogx.FromContext(ctx).Info("authentication failed", "err", err)
				WriteBearerError(w, "", "invalid or missing token")
				return
			}

			ctx = slogx.With(ContextWithPrincipal(ctx, p), "user", p.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteBearerError writes an RFC 6750 invalid_token challenge. An empty
// realm is omitted.
func WriteBearerError(w http.ResponseWriter, realm, desc string) {
	challenge := `Bearer `
	if realm != "" {
		challenge += `realm="` + realm + `", `
	}
	challenge += `error="invalid_token", error_description="` + desc + `"`
	w.Header().Set("WWW-Authenticate", challenge)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": desc,
	})
}
