package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	"github.com/redis/go-redis/v9"
)

const (
	// maxRevokeDepth bounds the breadth-first walk over delegated tokens.
	maxRevokeDepth = domain.MaxDelegationDepth

	// maxTxAttempts bounds optimistic transaction retries under contention.
	maxTxAttempts = 8

	// minTombstoneTTL keeps a revoked id reserved even when the record had
	// already run out of lifetime.
	minTombstoneTTL = time.Hour
)

var (
	errContention = errors.New("redis: transaction contention")
	errTooDeep    = errors.New("redis: delegation tree deeper than the revoke bound")
)

type tokensRepo struct {
	s *Store
}

// Create writes the record and its index entries in one MULTI. The token,
// its tombstone and (for children) the parent record are WATCHed, so a
// revoke of the parent that lands between the existence check and EXEC
// aborts the transaction and the retry reports the parent as gone.
func (r *tokensRepo) Create(ctx context.Context, t domain.TokenData, ttl time.Duration) error {
	if ttl <= 0 {
		return store.ErrInvalidTTL
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: encode token: %w", err)
	}

	s := r.s
	watched := []string{s.tokenKey(t.ID), s.tombstoneKey(t.ID)}
	if t.Parent != "" {
		watched = append(watched, s.tokenKey(t.Parent), s.childrenKey(t.Parent))
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.tokenKey(t.ID), s.tombstoneKey(t.ID)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrAlreadyExists
		}

		var parentTTL time.Duration
		if t.Parent != "" {
			parentTTL, err = tx.PTTL(ctx, s.tokenKey(t.Parent)).Result()
			if err != nil {
				return err
			}
			// PTTL reports a missing key as a negative duration.
			if parentTTL <= 0 {
				return store.ErrNotFound
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.tokenKey(t.ID), data, ttl)
			pipe.ZAdd(ctx, s.subjectKey(t.Subject), redis.Z{
				Score:  float64(t.IssuedAt.UnixMilli()),
				Member: t.ID,
			})
			if t.Parent != "" {
				pipe.SAdd(ctx, s.childrenKey(t.Parent), t.ID)
				pipe.PExpire(ctx, s.childrenKey(t.Parent), parentTTL)
			}
			return nil
		})
		return err
	}

	for range maxTxAttempts {
		err := s.client.Watch(ctx, txf, watched...)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, store.ErrNotFound):
			return err
		default:
			return fmt.Errorf("redis: create token: %w", err)
		}
	}
	return fmt.Errorf("redis: create token: %w", errContention)
}

func (r *tokensRepo) Get(ctx context.Context, id string) (domain.TokenData, error) {
	return withReadRetry(ctx, func() (domain.TokenData, error) {
		return r.get(ctx, id)
	})
}

func (r *tokensRepo) get(ctx context.Context, id string) (domain.TokenData, error) {
	raw, err := r.s.client.Get(ctx, r.s.tokenKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TokenData{}, store.ErrNotFound
	}
	if err != nil {
		return domain.TokenData{}, fmt.Errorf("redis: get token: %w", err)
	}

	var t domain.TokenData
	if err := json.Unmarshal(raw, &t); err != nil {
		return domain.TokenData{}, fmt.Errorf("redis: decode token %s: %w", id, err)
	}
	// Redis expiry is lazy at millisecond granularity; don't trust it to the
	// edge.
	if t.Expired(r.s.now()) {
		return domain.TokenData{}, store.ErrNotFound
	}
	return t, nil
}

func (r *tokensRepo) ListBySubject(ctx context.Context, subject string) ([]domain.TokenData, error) {
	return withReadRetry(ctx, func() ([]domain.TokenData, error) {
		key := r.s.subjectKey(subject)
		ids, err := r.s.client.ZRevRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list tokens: %w", err)
		}

		tokens, stale, err := r.loadAll(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(stale) > 0 {
			// Best effort; the next read retries the prune.
			_ = r.s.client.ZRem(ctx, key, stale...).Err()
		}
		return tokens, nil
	})
}

func (r *tokensRepo) ListChildren(ctx context.Context, parent string) ([]domain.TokenData, error) {
	return withReadRetry(ctx, func() ([]domain.TokenData, error) {
		key := r.s.childrenKey(parent)
		ids, err := r.s.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list children: %w", err)
		}

		tokens, stale, err := r.loadAll(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(stale) > 0 {
			_ = r.s.client.SRem(ctx, key, stale...).Err()
		}
		return tokens, nil
	})
}

// loadAll fetches records for ids in order. Ids whose record is gone or
// expired come back in stale so the caller can prune its index.
func (r *tokensRepo) loadAll(ctx context.Context, ids []string) ([]domain.TokenData, []any, error) {
	tokens := make([]domain.TokenData, 0, len(ids))
	if len(ids) == 0 {
		return tokens, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.s.tokenKey(id)
	}
	vals, err := r.s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis: load tokens: %w", err)
	}

	now := r.s.now()
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var t domain.TokenData
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, nil, fmt.Errorf("redis: decode token %s: %w", ids[i], err)
		}
		if t.Expired(now) {
			stale = append(stale, ids[i])
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens, stale, nil
}

// Revoke walks the delegation tree breadth-first from id. Each node is
// tombstoned and deleted in its own MULTI, so a Get issued after a node's
// step returns ErrNotFound.
func (r *tokensRepo) Revoke(ctx context.Context, id string) ([]string, error) {
	if _, err := r.get(ctx, id); err != nil {
		return nil, err
	}

	var revoked []string
	level := []string{id}
	for depth := 0; len(level) > 0 && depth <= maxRevokeDepth; depth++ {
		var next []string
		for _, cur := range level {
			existed, children, err := r.revokeOne(ctx, cur)
			if err != nil {
				return revoked, err
			}
			if existed {
				revoked = append(revoked, cur)
			}
			next = append(next, children...)
		}
		level = next
	}
	if len(level) > 0 {
		return revoked, fmt.Errorf("revoke %s: %d tokens left below depth %d: %w", id, len(level), maxRevokeDepth, errTooDeep)
	}
	return revoked, nil
}

// revokeOne removes a single node and returns its children. The node's
// record and child index are WATCHed so a child created concurrently is
// either seen here or fails its own transaction.
func (r *tokensRepo) revokeOne(ctx context.Context, id string) (bool, []string, error) {
	s := r.s
	var (
		existed  bool
		children []string
	)

	txf := func(tx *redis.Tx) error {
		existed, children = false, nil

		raw, err := tx.Get(ctx, s.tokenKey(id)).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var t domain.TokenData
		if err == nil {
			if err := json.Unmarshal(raw, &t); err != nil {
				return fmt.Errorf("decode token %s: %w", id, err)
			}
			existed = true
		}

		children, err = tx.SMembers(ctx, s.childrenKey(id)).Result()
		if err != nil {
			return err
		}

		tombstoneTTL := max(t.TTL(s.now()), minTombstoneTTL)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.tombstoneKey(id), "1", tombstoneTTL)
			pipe.Del(ctx, s.tokenKey(id), s.childrenKey(id))
			if existed {
				pipe.ZRem(ctx, s.subjectKey(t.Subject), id)
			}
			return nil
		})
		return err
	}

	for range maxTxAttempts {
		err := s.client.Watch(ctx, txf, s.tokenKey(id), s.childrenKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("redis: revoke token %s: %w", id, err)
		}
		return existed, children, nil
	}
	return false, nil, fmt.Errorf("redis: revoke token %s: %w", id, errContention)
}
