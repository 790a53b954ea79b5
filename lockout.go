package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockKindEmail = "email"
	lockKindIP    = "ip"
)

// lockoutTracker keeps failed-attempt counters and lock flags in Redis,
// keyed independently per email and per client IP. Counting uses a
// single INCR so concurrent failures from many instances never lose
// increments.
type lockoutTracker struct {
	rdb    redis.UniversalClient
	cfg    LockoutConfig
	prefix string
}

func newLockoutTracker(rdb redis.UniversalClient, prefix string, cfg LockoutConfig) *lockoutTracker {
	return &lockoutTracker{rdb: rdb, cfg: cfg, prefix: prefix}
}

func (l *lockoutTracker) counterKey(kind, id string) string {
	return l.prefix + ":lf:" + kind + ":" + id
}

func (l *lockoutTracker) lockKey(kind, id string) string {
	return l.prefix + ":ll:" + kind + ":" + id
}

func (l *lockoutTracker) manualKey(kind, id string) string {
	return l.prefix + ":lm:" + kind + ":" + id
}

// Check reports whether the identity is locked and, for timed locks, how
// long until it clears. Manual locks report a zero duration.
func (l *lockoutTracker) Check(ctx context.Context, kind, id string) (bool, time.Duration, error) {
	manual, err := l.rdb.Exists(ctx, l.manualKey(kind, id)).Result()
	if err != nil {
		return false, 0, storeErr(err)
	}
	if manual > 0 {
		return true, 0, nil
	}

	ttl, err := l.rdb.PTTL(ctx, l.lockKey(kind, id)).Result()
	if err != nil {
		return false, 0, storeErr(err)
	}
	if ttl > 0 {
		return true, ttl, nil
	}
	return false, 0, nil
}

// RecordFailure bumps the counter and arms the timed lock once the
// threshold is reached. Returns the new failure count. The first failure
// of a streak starts the counting window; reaching the threshold again
// while locked simply re-arms the lock, which is idempotent.
func (l *lockoutTracker) RecordFailure(ctx context.Context, kind, id string) (int64, error) {
	key := l.counterKey(kind, id)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, storeErr(err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
			return count, storeErr(err)
		}
	}
	if count >= int64(l.cfg.Threshold) {
		if err := l.rdb.Set(ctx, l.lockKey(kind, id), count, l.cfg.LockDuration).Err(); err != nil {
			return count, storeErr(err)
		}
	}
	return count, nil
}

// FailureCount reads the current streak without changing it.
func (l *lockoutTracker) FailureCount(ctx context.Context, kind, id string) (int64, error) {
	count, err := l.rdb.Get(ctx, l.counterKey(kind, id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr(err)
	}
	return count, nil
}

// Clear drops the counter and any timed lock after a successful
// authentication. Manual locks survive; only Unlock removes those.
func (l *lockoutTracker) Clear(ctx context.Context, kind, id string) error {
	if err := l.rdb.Del(ctx, l.counterKey(kind, id), l.lockKey(kind, id)).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// Lock places a manual lock with no expiry.
func (l *lockoutTracker) Lock(ctx context.Context, kind, id string) error {
	if err := l.rdb.Set(ctx, l.manualKey(kind, id), "1", 0).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// Unlock removes a manual lock and resets the streak.
func (l *lockoutTracker) Unlock(ctx context.Context, kind, id string) error {
	if err := l.rdb.Del(ctx, l.manualKey(kind, id), l.lockKey(kind, id), l.counterKey(kind, id)).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// delayForFailures computes the progressive response delay: zero until
// DelayAfter failures, then doubling per failure, capped at DelayMax.
func (l *lockoutTracker) delayForFailures(count int64) time.Duration {
	if l.cfg.DelayAfter <= 0 || count <= int64(l.cfg.DelayAfter) {
		return 0
	}
	d := l.cfg.DelayBase
	for i := int64(l.cfg.DelayAfter) + 1; i < count; i++ {
		d *= 2
		if d >= l.cfg.DelayMax {
			return l.cfg.DelayMax
		}
	}
	if d > l.cfg.DelayMax {
		return l.cfg.DelayMax
	}
	return d
}

// sleepDelay waits out a progressive delay, honoring cancellation.
func sleepDelay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
