/*
Package authsdk provides a client SDK for the tollgate authentication gateway.

# Overview

The package is organized around two main types:

  - SDKClient: Unauthenticated operations (health, JWKS, auth subrequests, login redirects)
  - Session: Operations authenticated with a gateway token

Create an SDKClient to interact with public endpoints:

	client := authsdk.NewSDKClient("https://gw.example.com")

	// Check service health
	health, err := client.GetReadiness(ctx)

	// Ask the gateway what a reverse proxy would be told
	decision, err := client.CheckAuth(ctx, authsdk.AuthCheck{
		Token:  token,
		Scopes: []string{"read:portal"},
	})

Use a Session for the token API:

	session, err := client.Authenticate(ctx, token)

	// Mint a named user token from a session token
	created, err := session.CreateToken(ctx, authsdk.CreateTokenRequest{
		TokenType: "user",
		TokenName: "ci",
		Scopes:    []string{"read:portal"},
	})

	// Revoke it and everything delegated from it
	revoked, err := session.RevokeToken(ctx, created.Info.Token)

# Scope Requirements

Sessions created with Authenticate know their token's scopes and check
admin operations client-side before sending them. Sessions created with
NewSession, such as one wrapping the bootstrap token, skip the check.
Client-side checking can be disabled for testing:

	client.CheckScopes = false

# Error Handling

Failed requests return *OAuth2Error carrying the HTTP status and the
gateway's error code:

	var oerr *authsdk.OAuth2Error
	if errors.As(err, &oerr) && oerr.Code == authsdk.ErrorCodeConflict {
		// token name already used
	}

# Thread Safety

Sessions are safe for concurrent use.
*/
package authsdk
