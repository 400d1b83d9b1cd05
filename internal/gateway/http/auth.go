package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// Response headers set on an allowed auth subrequest.
const (
	HeaderUser           = "X-Auth-Request-User"
	HeaderEmail          = "X-Auth-Request-Email"
	HeaderUID            = "X-Auth-Request-Uid"
	HeaderGroups         = "X-Auth-Request-Groups"
	HeaderTokenScopes    = "X-Auth-Request-Token-Scopes"
	HeaderScopesAccepted = "X-Auth-Request-Scopes-Accepted"
	HeaderScopesSatisfy  = "X-Auth-Request-Scopes-Satisfy"
	HeaderClientIP       = "X-Auth-Request-Client-Ip"
)

// authConfig is what a proxy asks for on one subrequest.
type authConfig struct {
	scopes   []string
	satisfy  domain.Satisfy
	authType string
}

func parseAuthConfig(r *http.Request) (authConfig, error) {
	q := r.URL.Query()

	satisfy, ok := domain.ParseSatisfy(q.Get("satisfy"))
	if !ok {
		return authConfig{}, fmt.Errorf("satisfy parameter must be any or all")
	}

	authType := strings.ToLower(q.Get("auth_type"))
	switch authType {
	case "":
		authType = httpx.SchemeBearer
	case httpx.SchemeBearer, httpx.SchemeBasic:
	default:
		return authConfig{}, fmt.Errorf("auth_type parameter must be basic or bearer")
	}

	return authConfig{
		scopes:   domain.NormalizeSet(q["scope"]),
		satisfy:  satisfy,
		authType: authType,
	}, nil
}

// AuthHandler answers reverse proxy auth subrequests.
type AuthHandler struct {
	AuthorizeService *service.AuthorizeService
	Credential       func(*http.Request) string
	Realm            string
}

// HandleAuth handles GET /auth
//
//	@Summary		Auth subrequest
//	@Description	Decides whether the credential on the request carries the required scopes. A session cookie is checked first, then the Authorization header (Bearer, or Basic using x-oauth-basic).
//	@Description	On success identity headers are returned for the proxy to forward. Requests marked X-Requested-With: XMLHttpRequest get 403 instead of 401.
//	@Tags			Auth
//	@Produce		json
//	@Param			scope		query	[]string	false	"Required scope, repeatable"	collectionFormat(multi)
//	@Param			satisfy		query	string		false	"any or all (default all)"
//	@Param			auth_type	query	string		false	"bearer or basic challenge (default bearer)"
//	@Success		200			"Allowed, with X-Auth-Request-* headers"
//	@Failure		400			{object}	authsdk.ErrorResponse	"Invalid parameters"
//	@Failure		401			{object}	authsdk.ErrorResponse	"No valid credential"
//	@Failure		403			{object}	authsdk.ErrorResponse	"Insufficient scope"
//	@Router			/auth [get]
func (h *AuthHandler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseAuthConfig(r)
	if err != nil {
		writeAuthError(w, http.StatusBadRequest, "", authsdk.ErrorCodeInvalidRequest, err.Error())
		return
	}

	ctx := slogx.With(r.Context(),
		"auth_uri", originalURI(r),
		"required_scope", strings.Join(cfg.scopes, " "),
		"satisfy", string(cfg.satisfy),
	)

	token, err := h.AuthorizeService.Authorize(ctx, service.AuthRequest{
		Credential: h.Credential(r),
		Scopes:     cfg.scopes,
		Satisfy:    cfg.satisfy,
	})
	switch {
	case service.IsDenied(err):
		h.unauthorized(w, r, cfg, err)
	case err != nil:
		h.forbidden(w, cfg)
	default:
		setIdentityHeaders(w, r, cfg, token)
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		w.WriteHeader(http.StatusOK)
	}
}

// HandleForbidden handles GET /auth/forbidden
//
//	@Summary		Uncached 403 page
//	@Description	Target for a proxy error_page directive so that 403 responses carry a challenge and are never cached. Takes the same parameters as /auth.
//	@Tags			Auth
//	@Produce		json
//	@Param			scope		query		[]string	false	"Required scope, repeatable"	collectionFormat(multi)
//	@Param			satisfy		query		string		false	"any or all (default all)"
//	@Param			auth_type	query		string		false	"bearer or basic challenge (default bearer)"
//	@Failure		403			{object}	authsdk.ErrorResponse
//	@Router			/auth/forbidden [get]
func (h *AuthHandler) HandleForbidden(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseAuthConfig(r)
	if err != nil {
		writeAuthError(w, http.StatusBadRequest, "", authsdk.ErrorCodeInvalidRequest, err.Error())
		return
	}
	h.forbidden(w, cfg)
}

func (h *AuthHandler) unauthorized(w http.ResponseWriter, r *http.Request, cfg authConfig, reason error) {
	challenge := h.challenge(cfg.authType)
	// The reason only ever reaches the log.
	if !errors.Is(reason, domain.ErrNoCredential) && cfg.authType == httpx.SchemeBearer {
		challenge += `, error="invalid_token", error_description="token is invalid"`
	}

	status := http.StatusUnauthorized
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		status = http.StatusForbidden
	}
	writeAuthError(w, status, challenge, authsdk.ErrorCodeInvalidToken, "authentication required")
}

func (h *AuthHandler) forbidden(w http.ResponseWriter, cfg authConfig) {
	challenge := h.challenge(httpx.SchemeBearer) +
		`, error="insufficient_scope", error_description="token missing required scope"` +
		`, scope="` + strings.Join(cfg.scopes, " ") + `"`
	writeAuthError(w, http.StatusForbidden, challenge, authsdk.ErrorCodeInsufficientScope, "token missing required scope")
}

func (h *AuthHandler) challenge(authType string) string {
	if authType == httpx.SchemeBasic {
		return `Basic realm="` + h.Realm + `"`
	}
	return `Bearer realm="` + h.Realm + `"`
}

func setIdentityHeaders(w http.ResponseWriter, r *http.Request, cfg authConfig, t domain.TokenData) {
	h := w.Header()
	h.Set(HeaderUser, t.Subject)
	if t.Email != "" {
		h.Set(HeaderEmail, t.Email)
	}
	if t.UID != "" {
		h.Set(HeaderUID, t.UID)
	}
	if len(t.Groups) > 0 {
		h.Set(HeaderGroups, strings.Join(t.Groups, ","))
	}
	h.Set(HeaderTokenScopes, strings.Join(t.Scopes, " "))
	h.Set(HeaderScopesAccepted, strings.Join(cfg.scopes, " "))
	h.Set(HeaderScopesSatisfy, string(cfg.satisfy))
	h.Set(HeaderClientIP, httpx.ClientIP(r))
}

// writeAuthError writes a denial. Auth responses must be revalidated on
// every request, so this does not use WriteJSON.
func writeAuthError(w http.ResponseWriter, status int, challenge, code, desc string) {
	if challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(authsdk.ErrorResponse{Error: code, ErrorDescription: desc})
}

func originalURI(r *http.Request) string {
	if u := r.Header.Get("X-Original-URI"); u != "" {
		return u
	}
	if u := r.Header.Get("X-Original-URL"); u != "" {
		return u
	}
	return "NONE"
}
