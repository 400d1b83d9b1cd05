package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	Public() crypto.PublicKey
	PublicJWK() JWK
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
}

// NewSigner wraps a private key. The algorithm follows from the key type:
// RSA signs RS256, ECDSA P-256 signs ES256 and Ed25519 signs EdDSA.
func NewSigner(kid string, key crypto.Signer) (Signer, error) {
	if kid == "" {
		return nil, errors.New("jwtx: signer requires a kid")
	}

	var method jwt.SigningMethod
	switch key.(type) {
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		method = jwt.SigningMethodES256
	case ed25519.PrivateKey:
		method = jwt.SigningMethodEdDSA
	default:
		return nil, fmt.Errorf("jwtx: unsupported signing key %T", key)
	}

	return &keySigner{kid: kid, method: method, key: key}, nil
}

// NewSignerFromPEM loads a private key and derives its kid from the public
// key fingerprint, so the same file always yields the same kid.
func NewSignerFromPEM(pemKey []byte) (Signer, error) {
	key, _, err := cryptox.ParsePrivateKeyPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: %w", err)
	}
	fp, err := cryptox.PublicKeyFingerprint(key.Public())
	if err != nil {
		return nil, fmt.Errorf("jwtx: %w", err)
	}
	return NewSigner("tollgate-"+fp, key)
}

// GenerateSigner creates a signer backed by a fresh in-memory key.
func GenerateSigner(algorithm string, rsaBits int) (Signer, error) {
	var kt cryptox.KeyType
	switch algorithm {
	case AlgorithmRS256:
		kt = cryptox.KeyTypeRSA
	case AlgorithmES256:
		kt = cryptox.KeyTypeECDSA
	case AlgorithmEdDSA:
		kt = cryptox.KeyTypeEd25519
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", algorithm)
	}

	pemKey, err := cryptox.GenerateKey(kt, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate %s key: %w", algorithm, err)
	}
	return NewSignerFromPEM(pemKey)
}

func (s *keySigner) Alg() string              { return s.method.Alg() }
func (s *keySigner) KID() string              { return s.kid }
func (s *keySigner) Public() crypto.PublicKey { return s.key.Public() }

// Sign turns claims into a compact JWT with the kid header set.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// PublicJWK returns the verification half for JWKS publication.
func (s *keySigner) PublicJWK() JWK {
	jwk, err := NewJWK(s.kid, s.method.Alg(), s.key.Public())
	if err != nil {
		// NewSigner only accepts key types NewJWK understands.
		panic(err)
	}
	return jwk
}
