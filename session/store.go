package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session ID has no registry entry.
// For refresh tokens that means rotated, revoked or expired.
var ErrNotFound = errors.New("session: not found")

// consumeScript atomically reads and deletes a session entry. Under
// concurrent rotation of the same refresh token exactly one caller gets
// the blob; every other caller sees false.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
    return false
end
redis.call('DEL', KEYS[1])
return v
`)

// Store is the Redis-backed refresh-session registry.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewStore returns a registry using the given key prefix.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ac"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(tenantID, id string) string {
	return s.prefix + ":s:" + tenantID + ":" + id
}

func (s *Store) indexKey(tenantID, accountID string) string {
	return s.prefix + ":u:" + tenantID + ":" + accountID
}

// Save registers a session and indexes it under its account, scored by
// issue time so the oldest session is always at rank zero.
func (s *Store) Save(ctx context.Context, sess Session) error {
	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("session: already expired")
	}

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(sess.TenantID, sess.ID), encode(sess), ttl)
		p.ZAdd(ctx, s.indexKey(sess.TenantID, sess.AccountID), redis.Z{
			Score:  float64(sess.IssuedAt),
			Member: sess.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Get reads a session without consuming it.
func (s *Store) Get(ctx context.Context, tenantID, id string) (Session, error) {
	blob, err := s.rdb.Get(ctx, s.key(tenantID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: get: %w", err)
	}
	return decode(blob)
}

// Consume removes and returns the session in one atomic step. This is
// the rotation primitive: a refresh token presented twice loses the race
// the second time and gets ErrNotFound.
func (s *Store) Consume(ctx context.Context, tenantID, id string) (Session, error) {
	res, err := consumeScript.Run(ctx, s.rdb, []string{s.key(tenantID, id)}).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: consume: %w", err)
	}
	blob, ok := res.(string)
	if !ok {
		return Session{}, ErrNotFound
	}
	sess, err := decode([]byte(blob))
	if err != nil {
		return Session{}, err
	}
	// Index cleanup is best effort; stale members are pruned on listing.
	s.rdb.ZRem(ctx, s.indexKey(tenantID, sess.AccountID), id)
	return sess, nil
}

// ActiveSessions lists live sessions for an account, oldest first, and
// prunes index members whose session keys have expired.
func (s *Store) ActiveSessions(ctx context.Context, tenantID, accountID string) ([]Session, error) {
	idx := s.indexKey(tenantID, accountID)
	ids, err := s.rdb.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("session: index read: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.Get(ctx, s.key(tenantID, id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session: bulk read: %w", err)
	}

	var out []Session
	var stale []interface{}
	now := time.Now()
	for i, cmd := range cmds {
		blob, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("session: bulk read: %w", err)
		}
		sess, err := decode(blob)
		if err != nil {
			return nil, err
		}
		if sess.Expired(now) {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		s.rdb.ZRem(ctx, idx, stale...)
	}
	return out, nil
}

// RevokeAllForAccount removes every session of an account and returns
// the removed sessions so their token IDs can be blacklisted. The sweep
// is not atomic across keys; a session created concurrently may survive,
// which matches the semantics of "revoke everything that exists now".
func (s *Store) RevokeAllForAccount(ctx context.Context, tenantID, accountID string) ([]Session, error) {
	sessions, err := s.ActiveSessions(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, sess := range sessions {
			p.Del(ctx, s.key(tenantID, sess.ID))
		}
		p.Del(ctx, s.indexKey(tenantID, accountID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: revoke all: %w", err)
	}
	return sessions, nil
}

// Count returns the number of live sessions for an account.
func (s *Store) Count(ctx context.Context, tenantID, accountID string) (int, error) {
	sessions, err := s.ActiveSessions(ctx, tenantID, accountID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}
