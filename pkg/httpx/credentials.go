package httpx

import (
	"net/http"
	"strings"
)

// BasicTokenUser is the username that marks the password field of Basic
// credentials as the token.
const BasicTokenUser = "x-oauth-basic"

// Credential schemes recognised in the Authorization header.
const (
	SchemeBearer = "bearer"
	SchemeBasic  = "basic"
)

// TokenFromAuthorization extracts a token from the Authorization header.
// Bearer credentials are taken as-is. Basic credentials carry the token in
// the username, or in the password when the username is x-oauth-basic.
// It returns "" when no usable token is present.
func TokenFromAuthorization(r *http.Request) (token, scheme string) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", ""
	}

	kind, rest, _ := strings.Cut(authz, " ")
	switch strings.ToLower(kind) {
	case SchemeBearer:
		return strings.TrimSpace(rest), SchemeBearer
	case SchemeBasic:
		user, pass, ok := r.BasicAuth()
		if !ok {
			return "", SchemeBasic
		}
		if user == BasicTokenUser {
			return pass, SchemeBasic
		}
		return user, SchemeBasic
	default:
		return "", ""
	}
}
