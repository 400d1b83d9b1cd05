package httpx

import (
	"net/http"
	"slices"
	"strings"

	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// RequireAnyScope admits callers holding at least one of required.
func RequireAnyScope(required ...string) Middleware {
	return requireScopes(required, func(have []string) bool {
		return slices.ContainsFunc(required, func(s string) bool { return slices.Contains(have, s) })
	})
}

// RequireAllScopes admits callers holding every scope in required.
func RequireAllScopes(required ...string) Middleware {
	return requireScopes(required, func(have []string) bool {
		return !slices.ContainsFunc(required, func(s string) bool { return !slices.Contains(have, s) })
	})
}

func requireScopes(required []string, ok func(have []string) bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok(scopesFromCtx(r.Context())) {
				next.ServeHTTP(w, r)
				return
			}
			slogx.FromContext(r.Context()).Info("insufficient scope", "required", required)
			WriteScopeError(w, required)
		})
	}
}

// WriteScopeError writes a 403 with an RFC 6750 insufficient_scope
// challenge naming the required scopes.
func WriteScopeError(w http.ResponseWriter, required []string) {
	w.Header().Set("WWW-Authenticate",
		`Bearer error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
	WriteJSON(w, http.StatusForbidden, map[string]string{
		"error":             "insufficient_scope",
		"error_description": "token missing required scope",
	})
}
