package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist holds revoked token IDs until their natural expiry. Entries
// carry a TTL equal to the token's remaining lifetime plus the verifier
// leeway, so an entry never expires while its token still parses. The
// set never grows past the number of live-but-revoked tokens.
type Blacklist struct {
	rdb    redis.UniversalClient
	prefix string
	pad    time.Duration
}

// NewBlacklist returns a blacklist using the given key prefix. pad is
// added to every entry's TTL and must match the clock-skew leeway the
// token verifier grants.
func NewBlacklist(rdb redis.UniversalClient, prefix string, pad time.Duration) *Blacklist {
	if prefix == "" {
		prefix = "ac"
	}
	return &Blacklist{rdb: rdb, prefix: prefix, pad: pad}
}

func (b *Blacklist) key(jti string) string {
	return b.prefix + ":rvk:" + jti
}

// Add revokes a token ID for the given remaining lifetime. Tokens past
// expiry plus the leeway pad no longer parse, so nothing is written for
// them.
func (b *Blacklist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	ttl += b.pad
	if ttl <= 0 {
		return nil
	}
	if err := b.rdb.Set(ctx, b.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("session: blacklist add: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token ID is blacklisted. Errors must be
// treated as "unknown" and fail the authorization decision closed.
func (b *Blacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := b.rdb.Get(ctx, b.key(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: blacklist check: %w", err)
	}
	return true, nil
}
