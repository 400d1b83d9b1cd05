package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrOpen = errors.New("cryptox: cannot open sealed value")

// Sealer encrypts and authenticates short values such as cookie contents
// using XChaCha20-Poly1305. The key is derived from an operator-provided
// secret with HKDF so secrets of any length can be used.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a sealing key from secret. purpose separates keys derived
// from the same secret for different uses (e.g. "session-cookie").
func NewSealer(secret []byte, purpose string) (*Sealer, error) {
	key, err := deriveKey(secret, purpose, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// deriveKey expands secret into a size-byte key bound to purpose.
func deriveKey(secret []byte, purpose string, size int) ([]byte, error) {
	if len(secret) < 16 {
		return nil, errors.New("cryptox: secret must be at least 16 bytes")
	}
	key := make([]byte, size)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("tollgate:"+purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key: %w", err)
	}
	return key, nil
}

// Seal returns base64url(nonce || ciphertext || tag).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Any tampering, truncation or key mismatch yields
// ErrOpen without further detail.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrOpen
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return nil, ErrOpen
	}
	plaintext, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
