package domain

import "time"

// TokenChangeAction is what happened to a token.
type TokenChangeAction string

const (
	TokenChangeCreate TokenChangeAction = "create"
	TokenChangeRevoke TokenChangeAction = "revoke"
)

// TokenChangeEntry is one row of a user's token audit trail.
type TokenChangeEntry struct {
	ID        string            `json:"id"`
	TokenID   string            `json:"token"`
	Subject   string            `json:"username"`
	Type      TokenType         `json:"token_type"`
	TokenName string            `json:"token_name,omitempty"`
	Parent    string            `json:"parent,omitempty"`
	Scopes    []string          `json:"scopes"`
	Service   string            `json:"service,omitempty"`
	ExpiresAt time.Time         `json:"expires,omitzero"`
	Actor     string            `json:"actor"`
	Action    TokenChangeAction `json:"action"`
	IPAddress string            `json:"ip_address,omitempty"`
	EventTime time.Time         `json:"event_time"`
}

// NewTokenChangeEntry records action on t performed by actor.
func NewTokenChangeEntry(t TokenData, action TokenChangeAction, actor, ip string, at time.Time) TokenChangeEntry {
	return TokenChangeEntry{
		TokenID:   t.ID,
		Subject:   t.Subject,
		Type:      t.Type,
		TokenName: t.TokenName,
		Parent:    t.Parent,
		Scopes:    t.Scopes,
		Service:   t.Service,
		ExpiresAt: t.ExpiresAt,
		Actor:     actor,
		Action:    action,
		IPAddress: ip,
		EventTime: at,
	}
}
