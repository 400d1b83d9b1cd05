package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// DefaultKeyRetention keeps rotated keys verifying for as long as the
// longest session lifetime.
const DefaultKeyRetention = DefaultSessionLifetime

// KeyRotationService switches the active signing key at runtime.
//
// With a KeyFile the key comes from disk and a rotation happens whenever
// the file changes (see ReloadKeyFile). Without one the gateway runs in
// ephemeral mode and an admin can rotate to a freshly generated key.
// Either way the previous key keeps verifying for Retention.
type KeyRotationService struct {
	KeyManager *jwtx.KeyManager
	KeyFile    string
	Algorithm  string
	RSABits    int
	Retention  time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// RotateKeyResponse reports a rotation.
type RotateKeyResponse struct {
	NewKID     string         `json:"new_kid"`
	RetiredKID string         `json:"retired_kid,omitempty"`
	Keys       []jwtx.KeyInfo `json:"keys"`
}

func (s *KeyRotationService) retention() time.Duration {
	if s.Retention > 0 {
		return s.Retention
	}
	return DefaultKeyRetention
}

// RotateKey generates a new key and makes it active. It is refused when
// keys are managed through a file.
func (s *KeyRotationService) RotateKey(ctx context.Context) (RotateKeyResponse, error) {
	if s.KeyFile != "" {
		return RotateKeyResponse{}, fmt.Errorf("%w: signing key is loaded from %s; replace the file to rotate", domain.ErrInvalidRequest, s.KeyFile)
	}

	alg := s.Algorithm
	if alg == "" {
		alg = s.KeyManager.Algorithm()
	}
	next, err := jwtx.GenerateSigner(alg, s.RSABits)
	if err != nil {
		return RotateKeyResponse{}, fmt.Errorf("generate signing key: %w", err)
	}

	retired, err := s.KeyManager.Rotate(next, s.retention())
	if err != nil {
		return RotateKeyResponse{}, fmt.Errorf("rotate signing key: %w", err)
	}

	s.Metrics.KeyRotated("admin")
	slogx.FromContext(ctx).Info("signing key rotated",
		slog.String("kid", next.KID()),
		slog.String("retired_kid", retired),
	)
	return RotateKeyResponse{NewKID: next.KID(), RetiredKID: retired, Keys: s.KeyManager.Keys()}, nil
}

// ListKeys returns every key still accepted for verification.
func (s *KeyRotationService) ListKeys() []jwtx.KeyInfo {
	return s.KeyManager.Keys()
}

// ReloadKeyFile reads KeyFile and rotates to it. Reloading an unchanged
// file is a no-op.
func (s *KeyRotationService) ReloadKeyFile() error {
	data, err := os.ReadFile(s.KeyFile)
	if err != nil {
		return fmt.Errorf("read signing key: %w", err)
	}
	next, err := jwtx.NewSignerFromPEM(data)
	if err != nil {
		return fmt.Errorf("parse signing key: %w", err)
	}

	retired, err := s.KeyManager.Rotate(next, s.retention())
	if err != nil {
		return fmt.Errorf("rotate signing key: %w", err)
	}
	if retired == "" {
		return nil
	}

	s.Metrics.KeyRotated("file")
	if s.Logger != nil {
		s.Logger.Info("signing key reloaded from file",
			slog.String("kid", next.KID()),
			slog.String("retired_kid", retired),
		)
	}
	return nil
}
