package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
)

// ScopeAdminToken guards the admin API.
const ScopeAdminToken = domain.ScopeAdminToken

var errNoSessionCookie = errors.New("session cookie required")

// credential finds the caller's token: the session cookie first, then the
// Authorization header.
func (r *Router) credential(req *http.Request) string {
	tok, _ := r.credentialSource(req)
	return tok
}

// credentialSource is credential that also reports whether the token came
// from the session cookie.
func (r *Router) credentialSource(req *http.Request) (string, bool) {
	if r.Cookies != nil {
		if tok, ok := r.Cookies.Session(req); ok {
			return tok, true
		}
	}
	tok, _ := httpx.TokenFromAuthorization(req)
	return tok, false
}

func (r *Router) authenticate(req *http.Request) (httpx.Principal, error) {
	timeout := service.DefaultStoreTimeout
	if r.AuthorizeService != nil && r.AuthorizeService.StoreTimeout > 0 {
		timeout = r.AuthorizeService.StoreTimeout
	}
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	tok, fromCookie := r.credentialSource(req)
	t, err := r.TokenService.Validate(ctx, tok)
	if err != nil {
		return httpx.Principal{}, err
	}
	p := principalOf(t)
	p.Cookie = fromCookie
	return p, nil
}

// authenticateSession admits only the session cookie, for endpoints that
// hand out browser secrets.
func (r *Router) authenticateSession(req *http.Request) (httpx.Principal, error) {
	if r.Cookies == nil {
		return httpx.Principal{}, errNoSessionCookie
	}
	if _, ok := r.Cookies.Session(req); !ok {
		return httpx.Principal{}, errNoSessionCookie
	}
	p, err := r.authenticate(req)
	if err != nil {
		return httpx.Principal{}, err
	}
	if t, _ := p.Value.(domain.TokenData); t.Type != domain.TokenTypeSession {
		return httpx.Principal{}, errNoSessionCookie
	}
	return p, nil
}

// verifyCSRF checks the X-CSRF-Token header against the session that
// authenticated the request.
func (r *Router) verifyCSRF(p httpx.Principal, token string) bool {
	t, _ := p.Value.(domain.TokenData)
	return r.Cookies != nil && r.Cookies.VerifyCSRF(t.ID, token)
}

// authenticateAdmin also accepts the bootstrap token.
func (r *Router) authenticateAdmin(req *http.Request) (httpx.Principal, error) {
	if tok, _ := httpx.TokenFromAuthorization(req); tok != "" {
		if t, ok := r.Bootstrap.Match(tok); ok {
			return principalOf(t), nil
		}
	}
	return r.authenticate(req)
}

func principalOf(t domain.TokenData) httpx.Principal {
	return httpx.Principal{Subject: t.Subject, Scopes: t.Scopes, Value: t}
}

// callerFrom returns the token set by the authn middleware.
func callerFrom(ctx context.Context) domain.TokenData {
	p, _ := httpx.PrincipalFromContext(ctx)
	t, _ := p.Value.(domain.TokenData)
	return t
}
