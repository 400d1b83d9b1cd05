package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrInvalidTTL    = errors.New("store: ttl must be positive")
)

// Store is the root data access interface for ephemeral state. The redis
// driver implements it; tests run the same driver against miniredis.
type Store interface {
	Tokens() Tokens
	Sessions() Sessions

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}

// Tokens holds token records. A present, unexpired record is sufficient
// proof that a token is valid; revocation removes the record.
type Tokens interface {
	// Create stores t with the given ttl. It fails with ErrAlreadyExists when
	// the id is taken or was revoked, ErrNotFound when t.Parent is set but
	// no longer exists, and ErrInvalidTTL when ttl is not positive.
	Create(ctx context.Context, t domain.TokenData, ttl time.Duration) error

	// Get returns the live record for id or ErrNotFound.
	Get(ctx context.Context, id string) (domain.TokenData, error)

	// ListBySubject returns every live token of a user, newest first.
	ListBySubject(ctx context.Context, subject string) ([]domain.TokenData, error)

	// ListChildren returns the live tokens directly delegated from parent.
	ListChildren(ctx context.Context, parent string) ([]domain.TokenData, error)

	// Revoke removes id and all of its descendants and returns the ids that
	// were removed, id first.
	Revoke(ctx context.Context, id string) ([]string, error)
}

// Sessions holds login handshake state.
type Sessions interface {
	// Create stores s under a freshly generated id and returns that id.
	Create(ctx context.Context, s domain.LoginSession, ttl time.Duration) (string, error)

	// Get returns the session or ErrNotFound. Expired and absent sessions
	// are indistinguishable.
	Get(ctx context.Context, id string) (domain.LoginSession, error)

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// Consume atomically reads and deletes the session. Of two concurrent
	// callers exactly one sees the session; the other gets ErrNotFound.
	Consume(ctx context.Context, id string) (domain.LoginSession, error)
}

// History is the durable audit trail of token changes.
type History interface {
	// Add appends an entry. The id is assigned when empty.
	Add(ctx context.Context, e domain.TokenChangeEntry) error

	// ListBySubject returns a user's entries newest first. limit <= 0
	// means no limit.
	ListBySubject(ctx context.Context, subject string, limit int) ([]domain.TokenChangeEntry, error)

	// DeleteBefore drops entries older than cutoff and returns how many
	// were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ApplyMigrations() error
	Ping(ctx context.Context) error
	Close() error
}
