package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// mfaAttemptLimiter bounds failed MFA verifications per account while a
// pending login is open. Separate from the password lockout tracker so a
// stolen password plus MFA guessing locks the second factor without
// hiding the signal inside generic login failures.
type mfaAttemptLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

func newMFAAttemptLimiter(rdb redis.UniversalClient, prefix string, max int, window time.Duration) *mfaAttemptLimiter {
	return &mfaAttemptLimiter{rdb: rdb, prefix: prefix, max: max, window: window}
}

func (m *mfaAttemptLimiter) key(accountID string) string {
	return m.prefix + ":mf:" + accountID
}

// RecordFailure bumps the counter and reports whether the budget is now
// exhausted. The window starts at the first failure.
func (m *mfaAttemptLimiter) RecordFailure(ctx context.Context, accountID string) (bool, error) {
	key := m.key(accountID)
	count, err := m.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, storeErr(err)
	}
	if count == 1 {
		if err := m.rdb.Expire(ctx, key, m.window).Err(); err != nil {
			return false, storeErr(err)
		}
	}
	return count >= int64(m.max), nil
}

// Exceeded checks the budget without consuming an attempt.
func (m *mfaAttemptLimiter) Exceeded(ctx context.Context, accountID string) (bool, error) {
	count, err := m.rdb.Get(ctx, m.key(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	return count >= int64(m.max), nil
}

// Reset clears the counter after a successful verification.
func (m *mfaAttemptLimiter) Reset(ctx context.Context, accountID string) error {
	if err := m.rdb.Del(ctx, m.key(accountID)).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}
