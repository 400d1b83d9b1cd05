package cryptox

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeyType names the private key families the gateway can sign with.
type KeyType string

const (
	KeyTypeRSA     KeyType = "RSA"
	KeyTypeECDSA   KeyType = "ECDSA"
	KeyTypeEd25519 KeyType = "Ed25519"
)

// MinRSABits is the smallest RSA modulus accepted for signing keys.
const MinRSABits = 2048

// GenerateKey creates a new private key of the given type and returns it
// PEM-encoded as PKCS8. bits is only consulted for RSA and defaults to 4096.
func GenerateKey(kt KeyType, bits int) ([]byte, error) {
	var (
		key crypto.Signer
		err error
	)

	switch kt {
	case KeyTypeRSA:
		if bits == 0 {
			bits = 4096
		}
		if bits < MinRSABits {
			return nil, fmt.Errorf("cryptox: RSA key size must be at least %d bits", MinRSABits)
		}
		key, err = rsa.GenerateKey(rand.Reader, bits)
	case KeyTypeECDSA:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyTypeEd25519:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	default:
		return nil, fmt.Errorf("cryptox: unsupported key type %q", kt)
	}
	if err != nil {
		return nil, fmt.Errorf("cryptox: generate %s key: %w", kt, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: marshal PKCS8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PEM private key. PKCS8, PKCS1 (RSA) and SEC1
// (EC) encodings are accepted so operators can hand over keys produced by
// openssl without re-encoding them.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, KeyType, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, "", errors.New("cryptox: no PEM block found")
	}

	var (
		parsed any
		err    error
	)
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		parsed, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, "", fmt.Errorf("cryptox: unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, "", fmt.Errorf("cryptox: parse %s: %w", block.Type, err)
	}

	switch k := parsed.(type) {
	case *rsa.PrivateKey:
		if k.N.BitLen() < MinRSABits {
			return nil, "", fmt.Errorf("cryptox: RSA key size must be at least %d bits", MinRSABits)
		}
		return k, KeyTypeRSA, nil
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, "", fmt.Errorf("cryptox: expected P-256 curve, got %s", k.Curve.Params().Name)
		}
		return k, KeyTypeECDSA, nil
	case ed25519.PrivateKey:
		return k, KeyTypeEd25519, nil
	default:
		return nil, "", fmt.Errorf("cryptox: unsupported private key %T", parsed)
	}
}

// PublicKeyFingerprint returns a short stable identifier for a public key,
// derived from its PKIX encoding. Reloading the same key file therefore
// yields the same key id.
func PublicKeyFingerprint(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("cryptox: marshal public key: %w", err)
	}
	return FingerprintToken(string(der))[:16], nil
}
