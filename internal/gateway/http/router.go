package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	"github.com/aussiebroadwan/tollgate/pkg/httpx"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"

	_ "github.com/aussiebroadwan/tollgate/api/tollgate" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyManager
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store   store.Store
	history store.History

	// Realm is sent in WWW-Authenticate challenges.
	Realm   string
	Cookies *Cookies
	Metrics *metrics.Metrics

	TokenService       *service.TokenService
	LoginService       *service.LoginService
	AuthorizeService   *service.AuthorizeService
	KeyRotationService *service.KeyRotationService
	Bootstrap          service.Bootstrap
}

func NewRouter(
	keys *jwtx.KeyManager,
	buildVersion string,
	st store.Store,
	history store.History,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		history:      history,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerLogin()
	r.registerTokens()
	r.registerAdmin()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			tollgate Authentication Gateway API
//	@version		0.1.0
//	@description	Authentication gateway answering reverse proxy auth subrequests, with a token API for delegated, user and service tokens.
//	@description
//	@description				Tokens are JWTs signed by the gateway and can be verified using the JWKS endpoint. A token is only valid while its record exists.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/tollgate
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Gateway token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		AuthorizeService: r.AuthorizeService,
		Credential:       r.credential,
		Realm:            r.Realm,
	}

	// The proxy calls /auth on every request it guards; rate limiting it
	// would throttle the protected sites themselves.
	r.Mux.HandleFunc("GET /auth", h.HandleAuth)
	r.Mux.HandleFunc("GET /auth/forbidden", h.HandleForbidden)
}

func (r *Router) registerLogin() {
	h := &LoginHandler{
		LoginService: r.LoginService,
		TokenService: r.TokenService,
		Cookies:      r.Cookies,
	}

	// Login starts and callbacks - moderate rate limit by IP, since every
	// login is a start plus a callback and offices share addresses
	r.Mux.Handle("GET /login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("GET /oauth2/callback",
		httpx.Chain(http.HandlerFunc(h.HandleCallback),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("GET /logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerTokens() {
	h := &TokensHandler{TokenService: r.TokenService, Cookies: r.Cookies}
	authn := httpx.AuthnMiddleware(r.authenticate)
	csrf := httpx.RequireCSRF(r.verifyCSRF)

	secured := func(fn http.HandlerFunc, limit httpx.RateLimitConfig) http.Handler {
		return httpx.Chain(fn,
			authn,
			csrf,
			httpx.RateLimitByUser(limit),
		)
	}

	if r.Cookies != nil {
		r.Mux.Handle("GET /auth/api/v1/login",
			httpx.Chain(http.HandlerFunc(h.HandleLoginInfo),
				httpx.AuthnMiddleware(r.authenticateSession),
				httpx.RateLimitByUser(httpx.LenientLimit),
			),
		)
	}
	r.Mux.Handle("GET /auth/api/v1/token-info", secured(h.HandleTokenInfo, httpx.LenientLimit))
	r.Mux.Handle("GET /auth/api/v1/user-info", secured(h.HandleUserInfo, httpx.LenientLimit))
	r.Mux.Handle("POST /auth/api/v1/tokens", secured(h.HandleCreate, httpx.ModerateLimit))
	r.Mux.Handle("DELETE /auth/api/v1/tokens/{id}", secured(h.HandleRevoke, httpx.ModerateLimit))
	r.Mux.Handle("GET /auth/api/v1/users/{username}/tokens", secured(h.HandleList, httpx.LenientLimit))
	r.Mux.Handle("GET /auth/api/v1/users/{username}/token-change-history", secured(h.HandleHistory, httpx.LenientLimit))
}

func (r *Router) registerAdmin() {
	tokens := &AdminTokensHandler{TokenService: r.TokenService}
	keys := &KeyRotationHandler{KeyRotationService: r.KeyRotationService}

	// Admin routes also accept the bootstrap token.
	admin := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn,
			httpx.AuthnMiddleware(r.authenticateAdmin),
			httpx.RequireCSRF(r.verifyCSRF),
			httpx.RequireAnyScope(ScopeAdminToken),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("POST /auth/api/v1/admin/tokens", admin(tokens.HandleCreate))
	r.Mux.Handle("GET /auth/api/v1/admin/keys", admin(keys.HandleListKeys))
	r.Mux.Handle("POST /auth/api/v1/admin/keys/rotate", admin(keys.HandleRotate))
}

func (r *Router) registerSystem() {
	// GET /jwks.json - public endpoint with high limit
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)

	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.history, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics.Handler())
	}
}
