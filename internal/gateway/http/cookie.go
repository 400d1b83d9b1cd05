package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
)

const (
	// SessionCookieName holds the sealed session token.
	SessionCookieName = "tollgate"
	// LoginCookieName holds the sealed handshake session id during login.
	LoginCookieName = "tollgate_login"

	cookiePurpose = "tollgate cookie v1"
	csrfPurpose   = "tollgate csrf v1"
)

// Cookies seals gateway cookies so a browser can neither read nor forge
// them.
type Cookies struct {
	sealer *cryptox.Sealer
	csrf   *cryptox.MAC
	secure bool
}

// NewCookies derives the cookie key from secret. Secure cookies are only
// sent over https.
func NewCookies(secret []byte, secure bool) (*Cookies, error) {
	s, err := cryptox.NewSealer(secret, cookiePurpose)
	if err != nil {
		return nil, err
	}
	m, err := cryptox.NewMAC(secret, csrfPurpose)
	if err != nil {
		return nil, err
	}
	return &Cookies{sealer: s, csrf: m, secure: secure}, nil
}

// CSRFToken returns the anti-forgery token for the session tokenID. It
// changes whenever the session does.
func (c *Cookies) CSRFToken(tokenID string) string {
	return c.csrf.Sum(tokenID)
}

// VerifyCSRF reports whether token was issued for the session tokenID.
func (c *Cookies) VerifyCSRF(tokenID, token string) bool {
	return tokenID != "" && c.csrf.Verify(tokenID, token)
}

// SetSession stores token in the session cookie until expires.
func (c *Cookies) SetSession(w http.ResponseWriter, token string, expires time.Time) error {
	return c.set(w, SessionCookieName, token, expires)
}

// Session returns the token in the session cookie, if any.
func (c *Cookies) Session(r *http.Request) (string, bool) {
	return c.get(r, SessionCookieName)
}

// SetLogin stores the handshake session id for ttl.
func (c *Cookies) SetLogin(w http.ResponseWriter, sessionID string, ttl time.Duration) error {
	return c.set(w, LoginCookieName, sessionID, time.Now().Add(ttl))
}

// Login returns the handshake session id, if any.
func (c *Cookies) Login(r *http.Request) (string, bool) {
	return c.get(r, LoginCookieName)
}

// Clear expires the named cookie.
func (c *Cookies) Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Cookies) set(w http.ResponseWriter, name, value string, expires time.Time) error {
	sealed, err := c.sealer.Seal([]byte(value))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sealed,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.secure,
		// Lax so the cookie survives the top-level redirect back from the
		// identity provider.
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// get treats a cookie that fails to open as absent.
func (c *Cookies) get(r *http.Request, name string) (string, bool) {
	ck, err := r.Cookie(name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	plain, err := c.sealer.Open(ck.Value)
	if err != nil || len(plain) == 0 {
		return "", false
	}
	return string(plain), true
}
