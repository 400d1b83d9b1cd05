package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces every key this driver writes.
const DefaultKeyPrefix = "tollgate:"

// Config holds connection settings for a single Redis endpoint.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store implements store.Store on Redis. Token and session records carry a
// per-key TTL so Redis does expiry for us; secondary indexes are pruned
// lazily on read.
type Store struct {
	client redis.UniversalClient
	prefix string

	// now is overridable for tests.
	now func() time.Time
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}

	return NewStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewStoreWithClient wraps a pre-configured client. Tests use it with
// miniredis.
func NewStoreWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) Tokens() store.Tokens     { return &tokensRepo{s: s} }
func (s *Store) Sessions() store.Sessions { return &sessionsRepo{s: s} }

// Ping verifies the connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) tokenKey(id string) string     { return s.prefix + "token:" + id }
func (s *Store) tombstoneKey(id string) string { return s.prefix + "tombstone:" + id }
func (s *Store) childrenKey(id string) string  { return s.prefix + "children:" + id }
func (s *Store) subjectKey(user string) string { return s.prefix + "subject:" + user }
func (s *Store) loginKey(id string) string     { return s.prefix + "login:" + id }
