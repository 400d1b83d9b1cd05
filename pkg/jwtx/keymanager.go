package jwtx

import (
	"crypto"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSigner = errors.New("jwtx: no active signing key")

// KeyManager owns the signing key set for an instance. Exactly one signer is
// active; keys rotated out stay valid for verification until their retention
// window ends so tokens signed before a rotation keep verifying.
//
// The key set is an immutable snapshot swapped atomically. Verification reads
// one snapshot and never observes a half-applied rotation. Writers serialise
// on mu.
type KeyManager struct {
	issuer   string
	audience []string

	mu    sync.Mutex
	state atomic.Pointer[keyState]

	// now is overridable for tests.
	now func() time.Time
}

// KeyManagerOptions configures the KeyManager.
type KeyManagerOptions struct {
	// Issuer is stamped into and enforced on every token. Required.
	Issuer string

	// Audience values the token must contain. Empty means no check.
	Audience []string

	// Signer is the initial active key. When nil a key is generated from
	// Algorithm and RSABits.
	Signer Signer

	// Algorithm for generated keys: "RS256", "ES256" or "EdDSA".
	Algorithm string

	// RSABits for generated RS256 keys. Defaults to 4096.
	RSABits int

	// Now overrides the clock (tests only).
	Now func() time.Time
}

// KeyInfo describes one key for listing endpoints and logs.
type KeyInfo struct {
	Kid       string    `json:"kid"`
	Alg       string    `json:"alg"`
	Active    bool      `json:"active"`
	AddedAt   time.Time `json:"added_at"`
	RetiredAt time.Time `json:"retired_at,omitzero"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type verificationKey struct {
	info KeyInfo
	pub  crypto.PublicKey
	jwk  JWK
}

type keyState struct {
	active Signer
	keys   map[string]verificationKey
	jwks   JWKS
}

// NewKeyManager creates a KeyManager with one active key.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, fmt.Errorf("jwtx: Issuer is required")
	}

	km := &KeyManager{
		issuer:   opts.Issuer,
		audience: opts.Audience,
		now:      opts.Now,
	}
	if km.now == nil {
		km.now = time.Now
	}

	signer := opts.Signer
	if signer == nil {
		alg := opts.Algorithm
		if alg == "" {
			alg = AlgorithmEdDSA
		}
		var err error
		signer, err = GenerateSigner(alg, opts.RSABits)
		if err != nil {
			return nil, err
		}
	}

	vk := verificationKey{
		info: KeyInfo{Kid: signer.KID(), Alg: signer.Alg(), Active: true, AddedAt: km.now().UTC()},
		pub:  signer.Public(),
		jwk:  signer.PublicJWK(),
	}
	km.state.Store(newKeyState(signer, map[string]verificationKey{vk.info.Kid: vk}))
	return km, nil
}

func newKeyState(active Signer, keys map[string]verificationKey) *keyState {
	st := &keyState{active: active, keys: keys}

	infos := make([]verificationKey, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, k)
	}
	// Newest first keeps the JWKS output stable between snapshots.
	slices.SortFunc(infos, func(a, b verificationKey) int {
		return b.info.AddedAt.Compare(a.info.AddedAt)
	})
	st.jwks.Keys = make([]JWK, 0, len(infos))
	for _, k := range infos {
		st.jwks.Keys = append(st.jwks.Keys, k.jwk)
	}
	return st
}

// Issuer returns the issuer stamped into tokens.
func (km *KeyManager) Issuer() string { return km.issuer }

// Algorithm returns the active signing algorithm.
func (km *KeyManager) Algorithm() string { return km.state.Load().active.Alg() }

// ActiveKID returns the kid used for new signatures.
func (km *KeyManager) ActiveKID() string { return km.state.Load().active.KID() }

// IsReady returns true if a signer is loaded.
func (km *KeyManager) IsReady() bool {
	st := km.state.Load()
	return st != nil && st.active != nil
}

// Sign signs claims with the active key.
func (km *KeyManager) Sign(c Claims) (string, error) {
	st := km.state.Load()
	if st == nil || st.active == nil {
		return "", ErrNoSigner
	}
	return st.active.Sign(c)
}

// Verify checks the signature against the key named by the kid header, then
// issuer, audience and expiry.
func (km *KeyManager) Verify(token string) (Claims, error) {
	st := km.state.Load()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(supportedMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(km.now),
		jwt.WithIssuer(km.issuer),
	}
	parser := jwt.NewParser(opts...)

	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
		}
		vk, ok := st.keys[kid]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}
		if t.Method.Alg() != vk.info.Alg {
			return nil, ErrAlgMismatch
		}
		return vk.pub, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	if err := claims.ValidateAudience(km.audience); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// Rotate makes next the active signer. The previous key is kept for
// verification until now+retain, which callers set to at least the longest
// token lifetime. Rotating to the key that is already active is a no-op.
func (km *KeyManager) Rotate(next Signer, retain time.Duration) (retired string, err error) {
	if next == nil {
		return "", errors.New("jwtx: signer cannot be nil")
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	cur := km.state.Load()
	if cur.active.KID() == next.KID() {
		return "", nil
	}

	now := km.now().UTC()
	keys := make(map[string]verificationKey, len(cur.keys)+1)
	for kid, k := range cur.keys {
		keys[kid] = k
	}

	prev := keys[cur.active.KID()]
	prev.info.Active = false
	prev.info.RetiredAt = now
	prev.info.ExpiresAt = now.Add(retain)
	keys[prev.info.Kid] = prev

	keys[next.KID()] = verificationKey{
		info: KeyInfo{Kid: next.KID(), Alg: next.Alg(), Active: true, AddedAt: now},
		pub:  next.Public(),
		jwk:  next.PublicJWK(),
	}

	km.state.Store(newKeyState(next, keys))
	return prev.info.Kid, nil
}

// Prune drops retired keys whose retention window has passed and returns
// their kids.
func (km *KeyManager) Prune(now time.Time) []string {
	km.mu.Lock()
	defer km.mu.Unlock()

	cur := km.state.Load()
	keys := make(map[string]verificationKey, len(cur.keys))
	var dropped []string
	for kid, k := range cur.keys {
		if !k.info.Active && !now.Before(k.info.ExpiresAt) {
			dropped = append(dropped, kid)
			continue
		}
		keys[kid] = k
	}
	if len(dropped) == 0 {
		return nil
	}

	km.state.Store(newKeyState(cur.active, keys))
	slices.Sort(dropped)
	return dropped
}

// PublicJWKS returns the current and recently rotated public keys.
func (km *KeyManager) PublicJWKS() JWKS {
	return km.state.Load().jwks
}

// Keys lists every key still accepted for verification, newest first.
func (km *KeyManager) Keys() []KeyInfo {
	st := km.state.Load()
	out := make([]KeyInfo, 0, len(st.keys))
	for _, k := range st.keys {
		out = append(out, k.info)
	}
	slices.SortFunc(out, func(a, b KeyInfo) int {
		return b.AddedAt.Compare(a.AddedAt)
	})
	return out
}
