package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// writeServiceError maps a service error onto the JSON error response for
// the token API. Unexpected errors are logged and hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var e *authsdk.OAuth2Error
	switch {
	case domain.IsValidityError(err) && !errors.Is(err, domain.ErrNotFound):
		e = authsdk.ErrInvalidToken
	case errors.Is(err, domain.ErrNotFound):
		e = authsdk.ErrNotFound
	case errors.Is(err, domain.ErrInsufficientScope), errors.Is(err, domain.ErrPermissionDenied):
		e = authsdk.ErrAccessDenied
	case errors.Is(err, domain.ErrScopeNotSubset):
		e = authsdk.ErrInvalidScope
	case errors.Is(err, domain.ErrTtlExceedsParent), errors.Is(err, domain.ErrBadExpires):
		e = authsdk.ErrInvalidExpires.WithDescription(err.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		e = authsdk.ErrInvalidRequest.WithDescription(err.Error())
	case errors.Is(err, domain.ErrConflict):
		e = authsdk.ErrConflict
	case errors.Is(err, domain.ErrTimeout):
		e = authsdk.ErrUnavailable
	default:
		slogx.FromContext(r.Context()).Error("request failed", "error", err)
		e = authsdk.ErrServerError
	}
	e.WriteError(w)
}

// writeLoginError answers a failed login step. Login errors are shown to a
// browser, so the description stays generic.
func writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	var e *authsdk.OAuth2Error
	switch {
	case errors.Is(err, domain.ErrStateMismatch):
		e = authsdk.NewOAuth2Error(http.StatusForbidden, authsdk.ErrorCodeStateMismatch,
			"authentication state mismatch, please log in again")
	case errors.Is(err, domain.ErrTimeout):
		e = authsdk.NewOAuth2Error(http.StatusGatewayTimeout, authsdk.ErrorCodeProviderTimeout,
			"the identity provider did not respond in time")
	case errors.Is(err, domain.ErrProviderError):
		e = authsdk.NewOAuth2Error(http.StatusInternalServerError, authsdk.ErrorCodeLoginFailed,
			"authentication with the identity provider failed")
	case errors.Is(err, domain.ErrInvalidRequest):
		e = authsdk.ErrInvalidRequest.WithDescription(err.Error())
	default:
		slogx.FromContext(r.Context()).Error("login failed", "error", err)
		e = authsdk.ErrServerError
	}
	e.WriteError(w)
}
