package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
)

// DefaultHistoryLimit caps a history listing when no limit is given.
const DefaultHistoryLimit = 100

// TokensHandler serves the token API for an authenticated caller.
type TokensHandler struct {
	TokenService *service.TokenService
	Cookies      *Cookies
}

// HandleLoginInfo handles GET /auth/api/v1/login
//
//	@Summary		Browser session
//	@Description	Returns the user and scopes of the session cookie, with the CSRF token that cookie-authenticated POST and DELETE requests must send in X-CSRF-Token.
//	@Description	Only the session cookie is accepted.
//	@Tags			Tokens
//	@Produce		json
//	@Success		200	{object}	authsdk.LoginInfo
//	@Failure		401	{object}	authsdk.ErrorResponse	"No session cookie"
//	@Router			/auth/api/v1/login [get]
func (h *TokensHandler) HandleLoginInfo(w http.ResponseWriter, r *http.Request) {
	t := callerFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginInfo{
		CSRF:     h.Cookies.CSRFToken(t.ID),
		Username: t.Subject,
		Scopes:   nonNil(t.Scopes),
	})
}

// HandleTokenInfo handles GET /auth/api/v1/token-info
//
//	@Summary		Caller's token
//	@Description	Returns the stored record of the token that authenticated the request.
//	@Tags			Tokens
//	@Produce		json
//	@Success		200	{object}	authsdk.TokenInfo
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/token-info [get]
func (h *TokensHandler) HandleTokenInfo(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, toTokenInfo(callerFrom(r.Context())))
}

// HandleUserInfo handles GET /auth/api/v1/user-info
//
//	@Summary		Caller's identity
//	@Description	Returns the identity captured at login and carried by the token.
//	@Tags			Tokens
//	@Produce		json
//	@Success		200	{object}	authsdk.UserInfo
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/user-info [get]
func (h *TokensHandler) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, toUserInfo(callerFrom(r.Context()).Identity()))
}

// HandleCreate handles POST /auth/api/v1/tokens
//
//	@Summary		Delegate a token
//	@Description	Mints a user, notebook or internal token whose parent is the caller's token. Scopes must be a subset of the caller's and the token cannot outlive it.
//	@Description	Notebook and internal tokens are reused when a matching live one exists. Cookie-authenticated requests must send X-CSRF-Token.
//	@Tags			Tokens
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.CreateTokenRequest	true	"Token request"
//	@Success		201		{object}	authsdk.NewTokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403		{object}	authsdk.ErrorResponse	"User tokens need a session token, or invalid_csrf"
//	@Failure		409		{object}	authsdk.ErrorResponse	"Token name already used"
//	@Failure		422		{object}	authsdk.ErrorResponse	"Scopes or expiry exceed the parent"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/tokens [post]
func (h *TokensHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription("invalid request body").WriteError(w)
		return
	}
	if req.ExpiresIn < 0 {
		authsdk.ErrInvalidExpires.WithDescription("expires_in must not be negative").WriteError(w)
		return
	}
	tokenType, err := domain.ParseTokenType(req.TokenType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	issued, err := h.TokenService.Delegate(r.Context(), callerFrom(r.Context()), service.DelegateRequest{
		Type:    tokenType,
		Scopes:  req.Scopes,
		TTL:     time.Duration(req.ExpiresIn) * time.Second,
		Name:    req.TokenName,
		Service: req.Service,
	}, httpx.ClientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toNewToken(issued))
}

// HandleList handles GET /auth/api/v1/users/{username}/tokens
//
//	@Summary		List tokens
//	@Description	Lists a user's live tokens, newest first. The caller must be that user's session, or hold admin:token.
//	@Tags			Tokens
//	@Produce		json
//	@Param			username	path		string	true	"Username"
//	@Success		200			{array}		authsdk.TokenInfo
//	@Failure		401			{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403			{object}	authsdk.ErrorResponse	"Not the owner"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/users/{username}/tokens [get]
func (h *TokensHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.TokenService.List(r.Context(), callerFrom(r.Context()), r.PathValue("username"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTokenInfos(tokens))
}

// HandleRevoke handles DELETE /auth/api/v1/tokens/{id}
//
//	@Summary		Revoke a token
//	@Description	Revokes a token and every token delegated from it. The caller must be the owner's session, or hold admin:token. Cookie-authenticated requests must send X-CSRF-Token.
//	@Tags			Tokens
//	@Produce		json
//	@Param			id	path		string	true	"Token id"
//	@Success		200	{object}	authsdk.RevokeTokenResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403	{object}	authsdk.ErrorResponse	"Not the owner's session, or invalid_csrf"
//	@Failure		404	{object}	authsdk.ErrorResponse	"Token not found"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/tokens/{id} [delete]
func (h *TokensHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	revoked, err := h.TokenService.Revoke(r.Context(), callerFrom(r.Context()), r.PathValue("id"), httpx.ClientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokeTokenResponse{Revoked: nonNil(revoked)})
}

// HandleHistory handles GET /auth/api/v1/users/{username}/token-change-history
//
//	@Summary		Token change history
//	@Description	Lists a user's token creations and revocations, newest first. The caller must be that user's session, or hold admin:token.
//	@Tags			Tokens
//	@Produce		json
//	@Param			username	path		string	true	"Username"
//	@Param			limit		query		int		false	"Maximum entries (default 100)"
//	@Success		200			{array}		authsdk.TokenChangeEntry
//	@Failure		400			{object}	authsdk.ErrorResponse	"Bad limit"
//	@Failure		401			{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403			{object}	authsdk.ErrorResponse	"Not the owner"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/users/{username}/token-change-history [get]
func (h *TokensHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			authsdk.ErrInvalidRequest.WithDescription("limit must be a positive integer").WriteError(w)
			return
		}
		limit = n
	}

	entries, err := h.TokenService.ChangeHistory(r.Context(), callerFrom(r.Context()), r.PathValue("username"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toChangeEntries(entries))
}
