package gateway_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestUserTokenAuthorizesRequests checks a user token through the auth
// subrequest the way a reverse proxy would send it.
func TestUserTokenAuthorizesRequests(t *testing.T) {
	g := setupGateway(t)
	_, created := g.userToken(t, "cli", "read:all")

	dec, err := g.client.CheckAuth(t.Context(), authsdk.AuthCheck{Token: created.Token, Scopes: []string{"read:all"}})
	require.NoError(t, err)
	require.True(t, dec.Allowed())
	require.Equal(t, "alice", dec.User)
	require.Equal(t, "alice@example.com", dec.Email)
	require.Equal(t, []string{"read:all"}, dec.TokenScopes)

	// Basic credentials carry the same token for git-style clients.
	dec, err = g.client.CheckAuth(t.Context(), authsdk.AuthCheck{Token: created.Token, Basic: true})
	require.NoError(t, err)
	require.True(t, dec.Allowed())

	dec, err = g.client.CheckAuth(t.Context(), authsdk.AuthCheck{Token: created.Token, Scopes: []string{"exec:notebook"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, dec.StatusCode)
	require.Contains(t, dec.Challenge, `error="insufficient_scope"`)

	dec, err = g.client.CheckAuth(t.Context(), authsdk.AuthCheck{
		Token:   created.Token,
		Scopes:  []string{"exec:notebook", "read:all"},
		Satisfy: "any",
	})
	require.NoError(t, err)
	require.True(t, dec.Allowed())

	dec, err = g.client.CheckAuth(t.Context(), authsdk.AuthCheck{Token: "not-a-token"})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, dec.StatusCode)
	require.Contains(t, dec.Challenge, `realm="tollgate-e2e"`)
}

// TestTokenLifecycle creates, lists, audits and revokes tokens through the
// SDK.
func TestTokenLifecycle(t *testing.T) {
	g := setupGateway(t)
	cookie, created := g.userToken(t, "ci", "read:all")

	sess, err := g.client.Authenticate(t.Context(), created.Token)
	require.NoError(t, err)
	require.Equal(t, []string{"read:all"}, sess.Scopes())

	// User tokens can only be minted from a session.
	_, err = sess.CreateToken(t.Context(), authsdk.CreateTokenRequest{TokenType: "user", TokenName: "nested"})
	assertStatus(t, err, http.StatusForbidden)

	browser := g.client.NewCookieSession([]*http.Cookie{cookie})

	_, err = browser.CreateToken(t.Context(), authsdk.CreateTokenRequest{TokenType: "user", TokenName: "ci"})
	assertStatus(t, err, http.StatusConflict)

	_, err = browser.CreateToken(t.Context(), authsdk.CreateTokenRequest{TokenType: "user", TokenName: "admin", Scopes: []string{"exec:admin"}})
	assertStatus(t, err, http.StatusUnprocessableEntity)

	nb1, err := browser.CreateToken(t.Context(), authsdk.CreateTokenRequest{TokenType: "notebook"})
	require.NoError(t, err)
	nb2, err := browser.CreateToken(t.Context(), authsdk.CreateTokenRequest{TokenType: "notebook"})
	require.NoError(t, err)
	require.Equal(t, nb1.Info.Token, nb2.Info.Token, "notebook tokens are reused")

	// Only the session manages tokens; a delegated token cannot.
	_, err = sess.ListTokens(t.Context(), "alice")
	assertStatus(t, err, http.StatusForbidden)
	_, err = sess.RevokeToken(t.Context(), created.Info.Token)
	assertStatus(t, err, http.StatusForbidden)

	tokens, err := browser.ListTokens(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 3)

	_, err = browser.ListTokens(t.Context(), "bob")
	assertStatus(t, err, http.StatusForbidden)

	login, err := browser.GetLoginInfo(t.Context())
	require.NoError(t, err)
	require.Equal(t, "alice", login.Username)
	require.NotEmpty(t, login.CSRF)

	revoked, err := browser.RevokeToken(t.Context(), created.Info.Token)
	require.NoError(t, err)
	require.Equal(t, []string{created.Info.Token}, revoked.Revoked)

	history, err := browser.GetTokenChangeHistory(t.Context(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, "revoke", history[0].Action)
	require.Equal(t, created.Info.Token, history[0].Token)
}
