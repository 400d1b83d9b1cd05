package http

import (
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/pkg/authsdk"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

func toTokenInfo(t domain.TokenData) authsdk.TokenInfo {
	return authsdk.TokenInfo{
		Token:     t.ID,
		Username:  t.Subject,
		TokenType: string(t.Type),
		Scopes:    nonNil(t.Scopes),
		Created:   t.IssuedAt.Unix(),
		Expires:   t.ExpiresAt.Unix(),
		Parent:    t.Parent,
		TokenName: t.TokenName,
		Service:   t.Service,
	}
}

func toTokenInfos(ts []domain.TokenData) []authsdk.TokenInfo {
	out := make([]authsdk.TokenInfo, len(ts))
	for i, t := range ts {
		out[i] = toTokenInfo(t)
	}
	return out
}

func toUserInfo(id domain.Identity) authsdk.UserInfo {
	return authsdk.UserInfo{
		Username: id.Username,
		Name:     id.Name,
		Email:    id.Email,
		UID:      id.UID,
		Groups:   id.Groups,
	}
}

func toNewToken(issued domain.IssuedToken) authsdk.NewTokenResponse {
	return authsdk.NewTokenResponse{Token: issued.Token, Info: toTokenInfo(issued.Data)}
}

func toChangeEntries(es []domain.TokenChangeEntry) []authsdk.TokenChangeEntry {
	out := make([]authsdk.TokenChangeEntry, len(es))
	for i, e := range es {
		var expires int64
		if !e.ExpiresAt.IsZero() {
			expires = e.ExpiresAt.Unix()
		}
		out[i] = authsdk.TokenChangeEntry{
			Token:     e.TokenID,
			Username:  e.Subject,
			TokenType: string(e.Type),
			TokenName: e.TokenName,
			Parent:    e.Parent,
			Scopes:    nonNil(e.Scopes),
			Service:   e.Service,
			Expires:   expires,
			Actor:     e.Actor,
			Action:    string(e.Action),
			IPAddress: e.IPAddress,
			EventTime: e.EventTime.Unix(),
		}
	}
	return out
}

func toKeyInfos(keys []jwtx.KeyInfo) []authsdk.SigningKeyInfo {
	out := make([]authsdk.SigningKeyInfo, len(keys))
	for i, k := range keys {
		out[i] = authsdk.SigningKeyInfo{
			Kid:       k.Kid,
			Algorithm: k.Alg,
			Active:    k.Active,
			CreatedAt: k.AddedAt.Format(time.RFC3339),
			RetiredAt: formatOptional(k.RetiredAt),
			ExpiresAt: formatOptional(k.ExpiresAt),
		}
	}
	return out
}

func formatOptional(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
