package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
)

// AdminTokensHandler mints service tokens. Requires admin:token or the
// bootstrap token.
type AdminTokensHandler struct {
	TokenService *service.TokenService
}

// HandleCreate handles POST /auth/api/v1/admin/tokens
//
//	@Summary		Mint a service token
//	@Description	Creates a service token for any user. The bootstrap token is accepted here.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.AdminTokenRequest	true	"Service token request"
//	@Success		201		{object}	authsdk.NewTokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Forbidden - requires admin:token scope"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/admin/tokens [post]
func (h *AdminTokensHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.AdminTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription("invalid request body").WriteError(w)
		return
	}
	if req.ExpiresIn <= 0 {
		authsdk.ErrInvalidExpires.WithDescription("expires_in must be positive").WriteError(w)
		return
	}

	issued, err := h.TokenService.IssueService(
		r.Context(),
		callerFrom(r.Context()),
		req.Username,
		req.Scopes,
		time.Duration(req.ExpiresIn)*time.Second,
		req.TokenName,
		httpx.ClientIP(r),
	)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toNewToken(issued))
}
