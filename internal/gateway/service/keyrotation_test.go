package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestKeyRotation_Ephemeral(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	before := env.session(t, "alice")
	oldKID := env.km.ActiveKID()

	svc := &KeyRotationService{KeyManager: env.km, Algorithm: jwtx.AlgorithmES256, Retention: time.Hour}
	resp, err := svc.RotateKey(ctx)
	require.NoError(t, err)
	require.Equal(t, oldKID, resp.RetiredKID)
	require.Equal(t, env.km.ActiveKID(), resp.NewKID)
	require.Len(t, resp.Keys, 2)
	require.Len(t, svc.ListKeys(), 2)

	_, err = env.tokens.Validate(ctx, before.Token)
	require.NoError(t, err, "token signed before rotation still verifies")

	after := env.session(t, "alice")
	claims, err := env.tokens.Decode(after.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
}

func TestKeyRotation_FileMode(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "signing.pem")

	svc := &KeyRotationService{KeyManager: env.km, KeyFile: path, Retention: time.Hour}
	_, err := svc.RotateKey(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	require.Error(t, svc.ReloadKeyFile(), "missing file")

	pemKey, err := cryptox.GenerateKey(cryptox.KeyTypeECDSA, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, pemKey, 0o600))

	require.NoError(t, svc.ReloadKeyFile())
	kid := env.km.ActiveKID()
	require.Contains(t, kid, "tollgate-")

	// Same file again: nothing changes.
	require.NoError(t, svc.ReloadKeyFile())
	require.Equal(t, kid, env.km.ActiveKID())
	require.Len(t, env.km.Keys(), 2)

	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
	require.Error(t, svc.ReloadKeyFile())
	require.Equal(t, kid, env.km.ActiveKID(), "bad file keeps the current key")
}
