package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID    ctxKey = "user_id"
	CtxKeyScopes    ctxKey = "scopes"
	CtxKeyPrincipal ctxKey = "principal"
)

// Principal is the authenticated caller of a request. Value carries the
// application's own record of the credential.
type Principal struct {
	Subject string
	Scopes  []string
	Value   any
	// Cookie is set when the credential came from a browser cookie rather
	// than a header the client set itself.
	Cookie bool
}

func scopesFromCtx(ctx context.Context) []string {
	if v, ok := ctx.Value(CtxKeyScopes).([]string); ok {
		return v
	}
	return nil
}

// PrincipalFromContext returns the principal set by AuthnMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(CtxKeyPrincipal).(Principal)
	return p, ok
}

// ContextWithPrincipal attaches p for downstream handlers and middleware.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, p.Subject)
	ctx = context.WithValue(ctx, CtxKeyScopes, p.Scopes)
	ctx = context.WithValue(ctx, CtxKeyPrincipal, p)
	return ctx
}
