package http

import (
	"net/http"

	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
)

// KeyRotationHandler lists and rotates signing keys. All endpoints require
// admin:token.
type KeyRotationHandler struct {
	KeyRotationService *service.KeyRotationService
}

// HandleRotate handles POST /auth/api/v1/admin/keys/rotate
//
//	@Summary		Rotate signing key
//	@Description	Generates a new signing key. The previous key keeps verifying until its retention window ends. Refused when keys come from a key file; replace the file instead.
//	@Tags			Admin
//	@Produce		json
//	@Success		200	{object}	authsdk.RotateKeyResponse
//	@Failure		400	{object}	authsdk.ErrorResponse	"Keys are managed by a key file"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403	{object}	authsdk.ErrorResponse	"Forbidden - requires admin:token scope"
//	@Failure		500	{object}	authsdk.ErrorResponse	"Internal Server Error"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/admin/keys/rotate [post]
func (h *KeyRotationHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	if h.KeyRotationService == nil {
		authsdk.ErrServerError.WithDescription("key rotation service not initialized").WriteError(w)
		return
	}

	resp, err := h.KeyRotationService.RotateKey(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.RotateKeyResponse{
		NewKid:     resp.NewKID,
		RetiredKid: resp.RetiredKID,
		Keys:       toKeyInfos(resp.Keys),
	})
}

// HandleListKeys handles GET /auth/api/v1/admin/keys
//
//	@Summary		List signing keys
//	@Description	Lists the active key and every retired key still accepted for verification.
//	@Tags			Admin
//	@Produce		json
//	@Success		200	{array}		authsdk.SigningKeyInfo
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403	{object}	authsdk.ErrorResponse	"Forbidden - requires admin:token scope"
//	@Security		BearerAuth
//	@Router			/auth/api/v1/admin/keys [get]
func (h *KeyRotationHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	if h.KeyRotationService == nil {
		authsdk.ErrServerError.WithDescription("key rotation service not initialized").WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toKeyInfos(h.KeyRotationService.ListKeys()))
}
