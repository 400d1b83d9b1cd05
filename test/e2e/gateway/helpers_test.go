package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/app"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common constants and helper functions for gateway end-to-end tests.
 * Each test gets its own Redis container, a fake GitHub Enterprise server
 * and an in-process gateway wired exactly as cmd/tollgate wires it.
 */

const (
	redisImage = "redis:7-alpine"

	bootstrapToken = "test-bootstrap-token-12345"
	returnURL      = "http://app.example.com/notebook"
	goodCode       = "good-code"

	groupMapping = `
read:all:
  - acme-staff
exec:notebook:
  - acme-staff
exec:admin:
  - acme-admins
`
)

type gateway struct {
	baseURL string
	client  *authsdk.SDKClient
	app     *app.Application
}

// setupRedis starts a Redis container and returns its address.
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e tests need docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mappedPort.Port())
}

// newFakeGitHub serves the slice of the GitHub Enterprise API the gateway
// uses. Only goodCode can be exchanged; the user is alice in acme/staff.
func newFakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("code") != goodCode {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": "bad_verification_code"})
			return
		}
		writeJSON(w, map[string]any{"access_token": "gho_e2e", "token_type": "bearer"})
	})
	mux.HandleFunc("GET /api/v3/user", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"login": "Alice", "id": 1001, "name": "Alice Example"})
	})
	mux.HandleFunc("GET /api/v3/user/emails", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{{"email": "alice@example.com", "primary": true, "verified": true}})
	})
	mux.HandleFunc("GET /api/v3/user/teams", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{"slug": "staff", "organization": map[string]any{"login": "acme"}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// setupGateway starts the full stack and returns an SDK client for it.
func setupGateway(t *testing.T) *gateway {
	t.Helper()
	redisAddr := setupRedis(t)
	gh := newFakeGitHub(t)
	dir := t.TempDir()

	mappingFile := filepath.Join(dir, "groups.yaml")
	require.NoError(t, os.WriteFile(mappingFile, []byte(groupMapping), 0o600))

	// The listener comes first so the callback URL is known.
	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	cfg := app.Config{
		Realm:                "tollgate-e2e",
		Issuer:               baseURL,
		BaseURL:              baseURL,
		SessionSecret:        "e2e-session-secret-0123456789abcdef",
		SessionLifetime:      time.Hour,
		LoginTTL:             time.Minute,
		AllowedHosts:         []string{"app.example.com"},
		Algorithm:            "EdDSA",
		RedisAddr:            redisAddr,
		DatabaseFile:         filepath.Join(dir, "history.db"),
		HistoryRetention:     24 * time.Hour,
		GroupMappingFile:     mappingFile,
		BootstrapToken:       bootstrapToken,
		GitHubClientID:       "e2e-client",
		GitHubClientSecret:   "e2e-secret",
		GitHubBaseURL:        gh.URL,
		StoreTimeout:         2 * time.Second,
		ProviderTimeout:      5 * time.Second,
		ShutdownGracePeriod:  time.Second,
		HousekeepingInterval: time.Hour,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	application, err := app.NewWithLogger(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, application.Start())

	srv.Config.Handler = application.Handler()
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		_ = application.Close()
	})

	return &gateway{baseURL: baseURL, client: authsdk.NewSDKClient(baseURL), app: application}
}

// login runs the browser flow against the fake GitHub and returns the
// session cookie.
func (g *gateway) login(t *testing.T) *http.Cookie {
	t.Helper()

	start, err := g.client.StartLogin(t.Context(), "", returnURL)
	require.NoError(t, err)
	require.Equal(t, http.StatusSeeOther, start.StatusCode)

	u, err := url.Parse(start.Location)
	require.NoError(t, err)
	require.Equal(t, "/login/oauth/authorize", u.Path)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	done, err := g.client.FinishLogin(t.Context(), start.Cookies, goodCode, state)
	require.NoError(t, err)
	require.Equal(t, returnURL, done.Location)

	for _, c := range done.Cookies {
		if c.Name == "tollgate" && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

// userToken logs in and mints a named user token from the session.
func (g *gateway) userToken(t *testing.T, name string, scopes ...string) (*http.Cookie, *authsdk.NewTokenResponse) {
	t.Helper()
	cookie := g.login(t)

	created, err := g.client.NewCookieSession([]*http.Cookie{cookie}).CreateToken(t.Context(), authsdk.CreateTokenRequest{
		TokenType: "user",
		TokenName: name,
		Scopes:    scopes,
	})
	require.NoError(t, err)
	return cookie, created
}

// assertStatus checks err is an OAuth2Error with the given status.
func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	var oerr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, status, oerr.StatusCode, oerr.Error())
}
