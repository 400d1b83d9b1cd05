package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/redis/go-redis/v9"
)

type sessionsRepo struct {
	s *Store
}

func (r *sessionsRepo) Create(ctx context.Context, sess domain.LoginSession, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = domain.DefaultLoginTTL
	}

	id, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", err
	}
	sess.ID = id
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = r.s.now().UTC()
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("redis: encode session: %w", err)
	}

	ok, err := r.s.client.SetNX(ctx, r.s.loginKey(id), data, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: create session: %w", err)
	}
	if !ok {
		return "", store.ErrAlreadyExists
	}
	return id, nil
}

func (r *sessionsRepo) Get(ctx context.Context, id string) (domain.LoginSession, error) {
	return withReadRetry(ctx, func() (domain.LoginSession, error) {
		raw, err := r.s.client.Get(ctx, r.s.loginKey(id)).Bytes()
		return decodeSession(raw, err)
	})
}

func (r *sessionsRepo) Delete(ctx context.Context, id string) error {
	if err := r.s.client.Del(ctx, r.s.loginKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}

// Consume is GETDEL, not retried: a retry after a lost reply could observe
// the deletion its own first attempt made.
func (r *sessionsRepo) Consume(ctx context.Context, id string) (domain.LoginSession, error) {
	raw, err := r.s.client.GetDel(ctx, r.s.loginKey(id)).Bytes()
	return decodeSession(raw, err)
}

func decodeSession(raw []byte, err error) (domain.LoginSession, error) {
	if errors.Is(err, redis.Nil) {
		return domain.LoginSession{}, store.ErrNotFound
	}
	if err != nil {
		return domain.LoginSession{}, fmt.Errorf("redis: read session: %w", err)
	}
	var sess domain.LoginSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.LoginSession{}, fmt.Errorf("redis: decode session: %w", err)
	}
	return sess, nil
}
