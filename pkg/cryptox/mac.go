package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// MAC tags short messages with HMAC-SHA256 under a key derived from an
// operator secret. A tag can be handed to a client and checked later
// without storing it.
type MAC struct {
	key []byte
}

// NewMAC derives a MAC key from secret. purpose separates it from keys
// derived from the same secret for other uses.
func NewMAC(secret []byte, purpose string) (*MAC, error) {
	key, err := deriveKey(secret, purpose, sha256.Size)
	if err != nil {
		return nil, err
	}
	return &MAC{key: key}, nil
}

// Sum returns the base64url tag of msg.
func (m *MAC) Sum(msg string) string {
	h := hmac.New(sha256.New, m.key)
	h.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Verify reports whether tag is the tag of msg, in constant time. An empty
// tag never verifies.
func (m *MAC) Verify(msg, tag string) bool {
	if tag == "" {
		return false
	}
	return hmac.Equal([]byte(tag), []byte(m.Sum(msg)))
}
