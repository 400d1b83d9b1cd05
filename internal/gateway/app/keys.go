package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

// InitSigningKeys creates the KeyManager.
//
// Key modes:
//   - key file: the PEM private key at SigningKeyFile is the active key.
//     Tokens survive restarts, and replacing the file rotates the key
//     without a restart.
//   - ephemeral: a key is generated on startup and kept in memory. Every
//     token becomes invalid when the gateway restarts.
//
// Supported algorithms: RS256, ES256, EdDSA. In key file mode the
// algorithm follows the key.
func InitSigningKeys(cfg Config, logger *slog.Logger) (*jwtx.KeyManager, error) {
	opts := jwtx.KeyManagerOptions{
		Issuer:    cfg.Issuer,
		Algorithm: cfg.Algorithm,
		RSABits:   cfg.RSABits,
	}

	if cfg.SigningKeyFile != "" {
		data, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		signer, err := jwtx.NewSignerFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		opts.Signer = signer
	}

	keyManager, err := jwtx.NewKeyManager(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}

	if cfg.SigningKeyFile != "" {
		logger.Info("signing key loaded from file",
			"path", cfg.SigningKeyFile,
			"algorithm", keyManager.Algorithm(),
			"kid", keyManager.ActiveKID(),
			"issuer", cfg.Issuer,
		)
		return keyManager, nil
	}

	logger.Info("generated ephemeral signing key",
		"algorithm", keyManager.Algorithm(),
		"kid", keyManager.ActiveKID(),
		"issuer", cfg.Issuer,
	)
	logger.Warn("all existing tokens are now invalid due to key rotation on startup")
	return keyManager, nil
}
