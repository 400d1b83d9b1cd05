package http

import (
	"net/http"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// LoginHandler drives the browser side of the login handshake.
type LoginHandler struct {
	LoginService *service.LoginService
	TokenService *service.TokenService
	Cookies      *Cookies
}

// HandleLogin handles GET /login
//
//	@Summary		Start or complete a login
//	@Description	Without code/state, starts a login with the configured identity provider and redirects to it. The return URL comes from rd or the X-Auth-Request-Redirect header and must be on an allowed host.
//	@Description	With code/state, this is the provider callback: on success the session cookie is set and the browser is sent to the return URL.
//	@Tags			Login
//	@Param			rd							query	string	false	"Return URL"
//	@Param			provider					query	string	false	"Identity provider (github or oidc)"
//	@Param			code						query	string	false	"Authorization code from the provider"
//	@Param			state						query	string	false	"Login state echoed by the provider"
//	@Param			X-Auth-Request-Redirect		header	string	false	"Return URL when rd is not given"
//	@Success		303							"Redirect to the provider or the return URL"
//	@Failure		400							{object}	authsdk.ErrorResponse	"Missing or disallowed return URL"
//	@Failure		403							{object}	authsdk.ErrorResponse	"Login state mismatch"
//	@Failure		500							{object}	authsdk.ErrorResponse	"Identity provider failure"
//	@Failure		504							{object}	authsdk.ErrorResponse	"Identity provider timeout"
//	@Router			/login [get]
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("code") || q.Has("state") || q.Has("error") {
		h.HandleCallback(w, r)
		return
	}

	returnURL := q.Get("rd")
	if returnURL == "" {
		returnURL = r.Header.Get("X-Auth-Request-Redirect")
	}
	if returnURL == "" {
		authsdk.ErrInvalidRequest.WithDescription("no return URL given").WriteError(w)
		return
	}

	ctx := r.Context()

	// Already logged in: go straight back.
	if tok, ok := h.Cookies.Session(r); ok {
		if _, err := h.TokenService.Validate(ctx, tok); err == nil {
			if _, err := h.LoginService.ValidateReturnURL(returnURL); err == nil {
				httpx.NoCache(w)
				http.Redirect(w, r, returnURL, http.StatusSeeOther)
				return
			}
		}
	}

	start, err := h.LoginService.Start(ctx, q.Get("provider"), returnURL)
	if err != nil {
		writeLoginError(w, r, err)
		return
	}

	ttl := h.LoginService.LoginTTL
	if ttl <= 0 {
		ttl = domain.DefaultLoginTTL
	}
	if err := h.Cookies.SetLogin(w, start.SessionID, ttl); err != nil {
		writeLoginError(w, r, err)
		return
	}
	httpx.NoCache(w)
	http.Redirect(w, r, start.RedirectURL, http.StatusSeeOther)
}

// HandleCallback handles GET /oauth2/callback
//
//	@Summary		Provider callback
//	@Description	Completes a login started by /login. The login cookie is cleared whatever the outcome, so a callback can only be used once.
//	@Tags			Login
//	@Param			code	query	string	true	"Authorization code from the provider"
//	@Param			state	query	string	true	"Login state echoed by the provider"
//	@Success		303		"Redirect to the return URL with the session cookie set"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Login state mismatch"
//	@Failure		500		{object}	authsdk.ErrorResponse	"Identity provider failure"
//	@Failure		504		{object}	authsdk.ErrorResponse	"Identity provider timeout"
//	@Router			/oauth2/callback [get]
func (h *LoginHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	sessionID, _ := h.Cookies.Login(r)
	h.Cookies.Clear(w, LoginCookieName)

	if upstream := q.Get("error"); upstream != "" {
		slogx.FromContext(ctx).Debug("provider error description", "description", q.Get("error_description"))
		writeLoginError(w, r, h.LoginService.Abort(ctx, sessionID, upstream))
		return
	}

	res, err := h.LoginService.Callback(ctx, sessionID, q.Get("code"), q.Get("state"), httpx.ClientIP(r))
	if err != nil {
		writeLoginError(w, r, err)
		return
	}

	if err := h.Cookies.SetSession(w, res.Token.Token, res.Token.Data.ExpiresAt); err != nil {
		writeLoginError(w, r, err)
		return
	}
	httpx.NoCache(w)
	http.Redirect(w, r, res.ReturnURL, http.StatusSeeOther)
}

// HandleLogout handles GET /logout
//
//	@Summary		Log out
//	@Description	Revokes the session token in the cookie, and everything delegated from it, then clears the cookie.
//	@Tags			Login
//	@Param			rd	query	string	false	"Where to go afterwards (must be on an allowed host)"
//	@Success		303	"Redirect to rd or /"
//	@Router			/logout [get]
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if tok, ok := h.Cookies.Session(r); ok {
		if t, err := h.TokenService.Validate(ctx, tok); err == nil {
			if _, err := h.TokenService.Revoke(ctx, t, t.ID, httpx.ClientIP(r)); err != nil {
				slogx.FromContext(ctx).Error("logout revoke failed", "token", t.ID, "error", err)
			} else {
				slogx.FromContext(ctx).Info("logged out", "user", t.Subject)
			}
		}
	}
	h.Cookies.Clear(w, SessionCookieName)

	dest := "/"
	if rd := r.URL.Query().Get("rd"); rd != "" {
		if _, err := h.LoginService.ValidateReturnURL(rd); err == nil {
			dest = rd
		}
	}
	httpx.NoCache(w)
	http.Redirect(w, r, dest, http.StatusSeeOther)
}
