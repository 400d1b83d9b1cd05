package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/service"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

type Config struct {
	Realm   string // Optional: realm in WWW-Authenticate challenges (default: host of BaseURL)
	Issuer  string // Optional: issuer claim for tokens (default: BaseURL)
	BaseURL string // Required: external URL of the gateway, used for the OAuth callback

	SessionSecret   string        // Required: at least 16 bytes, seals the browser cookies
	SessionLifetime time.Duration // Optional: lifetime of session tokens (default: 7 days)
	LoginTTL        time.Duration // Optional: how long a login handshake may take (default: 10m)
	AllowedHosts    []string      // Optional: hosts a login may return to (default: host of BaseURL)

	Algorithm      string        // Optional: JWT signing algorithm (RS256, ES256, EdDSA) (default: EdDSA)
	RSABits        int           // Optional: RSA key size for RS256 (default: 4096)
	SigningKeyFile string        // Optional: PEM private key; ephemeral key when unset
	KeyRetention   time.Duration // Optional: how long retired keys still verify (default: session lifetime)

	RedisAddr     string // Optional: Redis address (default: localhost:6379)
	RedisPassword string // Optional
	RedisDB       int    // Optional (default: 0)

	DatabaseFile     string        // Optional: SQLite token change history (default: ./tollgate.db)
	HistoryRetention time.Duration // Optional: history older than this is trimmed (default: 1 year)

	GroupMappingFile string   // Optional: YAML scope to group mapping, reloaded on change
	Admins           []string // Optional: usernames granted admin:token at login
	BootstrapToken   string   // Optional: secret accepted on the admin API

	GitHubClientID     string
	GitHubClientSecret string
	GitHubBaseURL      string // Optional: GitHub Enterprise server, e.g. https://github.example.com

	OIDCIssuer        string
	OIDCClientID      string
	OIDCClientSecret  string
	OIDCUsernameClaim string
	OIDCUIDClaim      string
	OIDCGroupsClaim   string
	OIDCScopes        []string

	StoreTimeout    time.Duration // Optional: deadline for store calls on /auth (default: 2s)
	ProviderTimeout time.Duration // Optional: deadline for a provider exchange (default: 20s)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Realm:   os.Getenv("TOLLGATE_REALM"),
		Issuer:  os.Getenv("TOLLGATE_ISSUER"),
		BaseURL: strings.TrimSuffix(os.Getenv("TOLLGATE_BASE_URL"), "/"),

		SessionSecret:   os.Getenv("TOLLGATE_SESSION_SECRET"),
		SessionLifetime: getEnvDurationOrDefault("TOLLGATE_SESSION_LIFETIME", service.DefaultSessionLifetime),
		LoginTTL:        getEnvDurationOrDefault("TOLLGATE_LOGIN_TTL", domain.DefaultLoginTTL),
		AllowedHosts:    getEnvList("TOLLGATE_ALLOWED_HOSTS", ","),

		Algorithm:      getEnvOrDefault("TOLLGATE_ALGORITHM", jwtx.AlgorithmEdDSA),
		RSABits:        getEnvIntOrDefault("TOLLGATE_RSA_BITS", 0),
		SigningKeyFile: os.Getenv("TOLLGATE_SIGNING_KEY_FILE"),
		KeyRetention:   getEnvDurationOrDefault("TOLLGATE_KEY_RETENTION", 0),

		RedisAddr:     getEnvOrDefault("TOLLGATE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("TOLLGATE_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("TOLLGATE_REDIS_DB", 0),

		DatabaseFile:     getEnvOrDefault("TOLLGATE_DATABASE_FILE", "tollgate.db"),
		HistoryRetention: getEnvDurationOrDefault("TOLLGATE_HISTORY_RETENTION", service.DefaultHistoryRetention),

		GroupMappingFile: os.Getenv("TOLLGATE_GROUP_MAPPING_FILE"),
		Admins:           getEnvList("TOLLGATE_ADMINS", ","),
		BootstrapToken:   os.Getenv("TOLLGATE_BOOTSTRAP_TOKEN"),

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubBaseURL:      strings.TrimSuffix(os.Getenv("GITHUB_BASE_URL"), "/"),

		OIDCIssuer:        os.Getenv("OIDC_ISSUER"),
		OIDCClientID:      os.Getenv("OIDC_CLIENT_ID"),
		OIDCClientSecret:  os.Getenv("OIDC_CLIENT_SECRET"),
		OIDCUsernameClaim: os.Getenv("OIDC_USERNAME_CLAIM"),
		OIDCUIDClaim:      os.Getenv("OIDC_UID_CLAIM"),
		OIDCGroupsClaim:   os.Getenv("OIDC_GROUPS_CLAIM"),
		OIDCScopes:        getEnvList("OIDC_SCOPES", " "),

		StoreTimeout:    getEnvDurationOrDefault("TOLLGATE_STORE_TIMEOUT", service.DefaultStoreTimeout),
		ProviderTimeout: getEnvDurationOrDefault("TOLLGATE_PROVIDER_TIMEOUT", service.DefaultProviderTimeout),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	if cfg.Issuer == "" {
		cfg.Issuer = cfg.BaseURL
	}
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		if cfg.Realm == "" {
			cfg.Realm = u.Hostname()
		}
		if len(cfg.AllowedHosts) == 0 {
			cfg.AllowedHosts = []string{u.Hostname()}
		}
	}

	return cfg
}

// Validate reports every problem with cfg at once.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.BaseURL)
	if c.BaseURL == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, errors.New("TOLLGATE_BASE_URL must be an absolute http(s) URL"))
	}
	if len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("TOLLGATE_SESSION_SECRET must be at least 16 bytes"))
	}
	if c.SessionLifetime <= 0 {
		errs = append(errs, errors.New("TOLLGATE_SESSION_LIFETIME must be positive"))
	}
	if c.KeyRetention > 0 && c.KeyRetention < c.SessionLifetime {
		errs = append(errs, errors.New("TOLLGATE_KEY_RETENTION must not be shorter than TOLLGATE_SESSION_LIFETIME"))
	}
	switch c.Algorithm {
	case jwtx.AlgorithmEdDSA, jwtx.AlgorithmES256, jwtx.AlgorithmRS256:
	default:
		errs = append(errs, fmt.Errorf("TOLLGATE_ALGORITHM %q is not supported", c.Algorithm))
	}
	if c.GitHubClientID == "" && c.OIDCIssuer == "" {
		errs = append(errs, errors.New("configure GITHUB_CLIENT_ID or OIDC_ISSUER"))
	}
	if c.GitHubClientID != "" && c.GitHubClientSecret == "" {
		errs = append(errs, errors.New("GITHUB_CLIENT_SECRET is required with GITHUB_CLIENT_ID"))
	}
	if c.OIDCIssuer != "" && c.OIDCClientID == "" {
		errs = append(errs, errors.New("OIDC_CLIENT_ID is required with OIDC_ISSUER"))
	}

	return errors.Join(errs...)
}

// CallbackURL is where providers send the browser back to.
func (c Config) CallbackURL() string {
	return c.BaseURL + "/oauth2/callback"
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

// getEnvList splits a separated list, dropping empty items.
func getEnvList(key, sep string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), sep) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
