package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	httpapi "github.com/aussiebroadwan/tollgate/internal/gateway/http"
	"github.com/aussiebroadwan/tollgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tollgate/internal/gateway/provider"
	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	redisstore "github.com/aussiebroadwan/tollgate/internal/gateway/store/drivers/redis"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
	"golang.org/x/oauth2"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application encapsulates the gateway with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	store      store.Store
	history    store.History
	keyManager *jwtx.KeyManager
	metrics    *metrics.Metrics
	mapper     *service.ScopeMapper

	// Services
	tokenService        *service.TokenService
	loginService        *service.LoginService
	authorizeService    *service.AuthorizeService
	keyRotationService  *service.KeyRotationService
	housekeepingService *service.HousekeepingService

	// Hot reload of the signing key and group mapping files
	watchers []*service.FileWatcher
	started  bool

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application with all dependencies initialized. It
// connects to Redis and opens the history database, so ctx bounds startup.
func New(ctx context.Context, cfg Config) (*Application, error) {
	return NewWithLogger(ctx, cfg, slogx.New(slogx.Config{
		Service: "tollgate",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	}))
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(ctx context.Context, cfg Config, logger *slog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	if err := app.initStores(ctx); err != nil {
		return nil, err
	}

	keyManager, err := InitSigningKeys(cfg, app.logger)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager = keyManager

	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	if err := app.initHTTP(); err != nil {
		app.closeStores()
		return nil, err
	}

	return app, nil
}

// Handler is the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Start begins the background workers: housekeeping and file watchers.
func (app *Application) Start() error {
	app.housekeepingService.Start()
	app.started = true

	if app.cfg.SigningKeyFile != "" {
		if err := app.watch(app.cfg.SigningKeyFile, app.keyRotationService.ReloadKeyFile); err != nil {
			return err
		}
	}
	if app.cfg.GroupMappingFile != "" {
		if err := app.watch(app.cfg.GroupMappingFile, app.reloadGroupMapping); err != nil {
			return err
		}
	}
	return nil
}

func (app *Application) watch(path string, reload func() error) error {
	w := &service.FileWatcher{Path: path, Reload: reload, Logger: app.logger}
	if err := w.Start(); err != nil {
		return err
	}
	app.watchers = append(app.watchers, w)
	return nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	if err := app.Start(); err != nil {
		return err
	}

	app.logger.Info("tollgate starting", "port", app.cfg.Port, "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.stopWorkers()
			app.closeStores()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down tollgate...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.stopWorkers()
	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("tollgate stopped")
	return nil
}

// Close stops the background workers and releases the stores without
// touching the HTTP server. Use it when the handler is served elsewhere.
func (app *Application) Close() error {
	app.stopWorkers()
	return app.closeStores()
}

func (app *Application) stopWorkers() {
	for _, w := range app.watchers {
		w.Stop()
	}
	app.watchers = nil
	if app.started {
		app.housekeepingService.Stop()
		app.started = false
	}
}

func (app *Application) closeStores() error {
	var errs []error
	if app.history != nil {
		if err := app.history.Close(); err != nil {
			app.logger.Error("error closing history database", "error", err)
			errs = append(errs, err)
		}
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initStores connects to Redis and opens the history database, applying
// its migrations.
func (app *Application) initStores(ctx context.Context) error {
	st, err := redisstore.NewStore(ctx, redisstore.Config{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.store = st
	app.logger.Info("connected to redis", "addr", app.cfg.RedisAddr, "db", app.cfg.RedisDB)

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	history, err := sqlite.NewHistoryStore(dsn)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to open history database: %w", err)
	}
	if err := history.ApplyMigrations(); err != nil {
		_ = history.Close()
		_ = st.Close()
		return fmt.Errorf("failed to apply history migrations: %w", err)
	}
	app.history = history

	app.logger.Info("history database migrations applied successfully", "path", app.cfg.DatabaseFile)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	mapping := domain.GroupMapping{}
	if app.cfg.GroupMappingFile != "" {
		m, err := service.LoadGroupMapping(app.cfg.GroupMappingFile)
		if err != nil {
			return err
		}
		mapping = m
	}
	app.mapper = service.NewScopeMapper(mapping)

	providers, defaultProvider, err := app.initProviders()
	if err != nil {
		return err
	}

	retention := app.cfg.KeyRetention
	if retention <= 0 {
		retention = app.cfg.SessionLifetime
	}

	app.tokenService = &service.TokenService{
		KeyManager:  app.keyManager,
		Store:       app.store,
		History:     app.history,
		Metrics:     app.metrics,
		MaxLifetime: retention,
	}

	app.authorizeService = &service.AuthorizeService{
		Tokens:       app.tokenService,
		StoreTimeout: app.cfg.StoreTimeout,
		Metrics:      app.metrics,
	}

	app.loginService = &service.LoginService{
		Providers:       providers,
		DefaultProvider: defaultProvider,
		Sessions:        app.store.Sessions(),
		Tokens:          app.tokenService,
		Mapper:          app.mapper,
		Admins:          app.cfg.Admins,
		AllowedHosts:    app.cfg.AllowedHosts,
		SessionLifetime: app.cfg.SessionLifetime,
		LoginTTL:        app.cfg.LoginTTL,
		ProviderTimeout: app.cfg.ProviderTimeout,
		Metrics:         app.metrics,
	}

	app.keyRotationService = &service.KeyRotationService{
		KeyManager: app.keyManager,
		KeyFile:    app.cfg.SigningKeyFile,
		Algorithm:  app.cfg.Algorithm,
		RSABits:    app.cfg.RSABits,
		Retention:  retention,
		Metrics:    app.metrics,
		Logger:     app.logger,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.keyManager,
		app.history,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeepingService.HistoryRetention = app.cfg.HistoryRetention

	return nil
}

// initProviders builds the configured identity providers. GitHub is the
// default when both are configured.
func (app *Application) initProviders() (map[string]provider.Provider, string, error) {
	providers := map[string]provider.Provider{}
	var defaultProvider string

	if app.cfg.OIDCIssuer != "" {
		p, err := provider.NewOIDC(provider.OIDCConfig{
			Issuer:        app.cfg.OIDCIssuer,
			ClientID:      app.cfg.OIDCClientID,
			ClientSecret:  app.cfg.OIDCClientSecret,
			CallbackURL:   app.cfg.CallbackURL(),
			Scopes:        app.cfg.OIDCScopes,
			UsernameClaim: app.cfg.OIDCUsernameClaim,
			UIDClaim:      app.cfg.OIDCUIDClaim,
			GroupsClaim:   app.cfg.OIDCGroupsClaim,
		})
		if err != nil {
			return nil, "", err
		}
		providers[p.Name()] = p
		defaultProvider = p.Name()
		app.logger.Info("oidc provider enabled", "issuer", app.cfg.OIDCIssuer)
	}

	if app.cfg.GitHubClientID != "" {
		ghCfg := provider.GitHubConfig{
			ClientID:     app.cfg.GitHubClientID,
			ClientSecret: app.cfg.GitHubClientSecret,
			CallbackURL:  app.cfg.CallbackURL(),
		}
		if base := app.cfg.GitHubBaseURL; base != "" {
			ghCfg.Endpoint = oauth2.Endpoint{
				AuthURL:  base + "/login/oauth/authorize",
				TokenURL: base + "/login/oauth/access_token",
			}
			ghCfg.APIBaseURL = base + "/api/v3/"
		}
		p, err := provider.NewGitHub(ghCfg)
		if err != nil {
			return nil, "", err
		}
		providers[p.Name()] = p
		defaultProvider = p.Name()
		app.logger.Info("github provider enabled", "base_url", app.cfg.GitHubBaseURL)
	}

	return providers, defaultProvider, nil
}

func (app *Application) reloadGroupMapping() error {
	m, err := service.LoadGroupMapping(app.cfg.GroupMappingFile)
	if err != nil {
		return err
	}
	app.mapper.Set(m)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() error {
	cookies, err := httpapi.NewCookies([]byte(app.cfg.SessionSecret), app.cfg.SecureCookies())
	if err != nil {
		return fmt.Errorf("failed to initialize cookies: %w", err)
	}

	router := httpapi.NewRouter(
		app.keyManager,
		BuildVersion,
		app.store,
		app.history,
		app.logger,
	)

	// Wire services to router
	router.Realm = app.cfg.Realm
	router.Cookies = cookies
	router.Metrics = app.metrics
	router.TokenService = app.tokenService
	router.LoginService = app.loginService
	router.AuthorizeService = app.authorizeService
	router.KeyRotationService = app.keyRotationService
	router.Bootstrap = service.Bootstrap{Token: app.cfg.BootstrapToken}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}
