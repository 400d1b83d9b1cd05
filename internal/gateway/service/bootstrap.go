package service

import (
	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
)

// BootstrapUser is the identity reported for requests made with the
// bootstrap token. It can never be a real username.
const BootstrapUser = "<bootstrap>"

// Bootstrap recognises the configured bootstrap secret. It grants
// admin:token on the admin API so the first tokens can be minted before
// anyone has logged in.
type Bootstrap struct {
	Token string
}

// Match reports whether raw is the bootstrap token and, if so, returns the
// synthetic record it stands for.
func (b Bootstrap) Match(raw string) (domain.TokenData, bool) {
	if b.Token == "" || raw == "" || !cryptox.SecretEqual(raw, b.Token) {
		return domain.TokenData{}, false
	}
	return domain.TokenData{
		Type:    domain.TokenTypeService,
		Subject: BootstrapUser,
		Scopes:  []string{domain.ScopeAdminToken},
	}, true
}
