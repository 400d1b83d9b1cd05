package domain

import "time"

// DefaultLoginTTL bounds how long a login handshake may take.
const DefaultLoginTTL = 10 * time.Minute

// LoginSession is the short-lived state carried across the redirect to an
// identity provider and back.
type LoginSession struct {
	ID        string    `json:"id"`
	CSRFState string    `json:"csrf_state"`
	ReturnURL string    `json:"return_url"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}
