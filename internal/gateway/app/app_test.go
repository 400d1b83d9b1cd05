package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	return Config{
		Realm:                "gw.example.com",
		Issuer:               "https://gw.example.com",
		BaseURL:              "https://gw.example.com",
		SessionSecret:        "0123456789abcdef0123456789abcdef",
		SessionLifetime:      time.Hour,
		LoginTTL:             time.Minute,
		AllowedHosts:         []string{"app.example.com"},
		Algorithm:            "EdDSA",
		RedisAddr:            mr.Addr(),
		DatabaseFile:         filepath.Join(dir, "history.db"),
		BootstrapToken:       "bootstrap-secret",
		GitHubClientID:       "id",
		GitHubClientSecret:   "secret",
		StoreTimeout:         time.Second,
		ProviderTimeout:      time.Second,
		ShutdownGracePeriod:  time.Second,
		HousekeepingInterval: time.Hour,
	}
}

func newTestApp(t *testing.T, cfg Config) *Application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewWithLogger(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.NoError(t, app.Start())
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func get(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionSecret = ""
	_, err := NewWithLogger(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewWithLogger(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestApplication_Wiring(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	h := app.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/.well-known/jwks.json", "").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/auth/api/v1/admin/keys", "bootstrap-secret").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/auth", "").Code)

	// Login redirects to GitHub.
	rec := get(t, h, "/login?rd=https://app.example.com/", "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "github.com/login/oauth/authorize")
	assert.Contains(t, rec.Header().Get("Location"), "redirect_uri=https%3A%2F%2Fgw.example.com%2Foauth2%2Fcallback")
}

func TestApplication_GroupMappingReload(t *testing.T) {
	cfg := testConfig(t)
	cfg.GroupMappingFile = filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(cfg.GroupMappingFile, []byte("read:all:\n  - staff\n"), 0o600))

	app := newTestApp(t, cfg)
	assert.Equal(t, []string{"read:all"}, app.mapper.Map([]string{"staff"}))

	require.NoError(t, os.WriteFile(cfg.GroupMappingFile, []byte("read:all:\n  - staff\nexec:admin:\n  - staff\n"), 0o600))
	require.Eventually(t, func() bool {
		return len(app.mapper.Map([]string{"staff"})) == 2
	}, 5*time.Second, 50*time.Millisecond)

	// A broken file keeps the previous mapping.
	require.NoError(t, os.WriteFile(cfg.GroupMappingFile, []byte("read:all: [unterminated\n"), 0o600))
	time.Sleep(time.Second)
	assert.Equal(t, []string{"exec:admin", "read:all"}, app.mapper.Map([]string{"staff"}))
}

func TestApplication_SigningKeyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.SigningKeyFile = filepath.Join(t.TempDir(), "signing.pem")
	pem, err := cryptox.GenerateKey(cryptox.KeyTypeECDSA, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.SigningKeyFile, pem, 0o600))

	app := newTestApp(t, cfg)
	assert.Equal(t, "ES256", app.keyManager.Algorithm())
	first := app.keyManager.ActiveKID()

	// Rotation over the API is refused while the file owns the key.
	req := httptest.NewRequest(http.MethodPost, "/auth/api/v1/admin/keys/rotate", nil)
	req.Header.Set("Authorization", "Bearer bootstrap-secret")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	next, err := cryptox.GenerateKey(cryptox.KeyTypeECDSA, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.SigningKeyFile, next, 0o600))

	require.Eventually(t, func() bool {
		return app.keyManager.ActiveKID() != first
	}, 5*time.Second, 50*time.Millisecond)
	assert.Len(t, app.keyManager.Keys(), 2, "the previous key keeps verifying")
}

func TestApplication_MissingSigningKeyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.SigningKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err := NewWithLogger(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
