package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ipObservation is the advisory output of the reputation tracker.
type ipObservation struct {
	NewIP        bool
	HighVelocity bool
}

// ipReputation tracks the recent client IPs of each account in a bounded
// ZSET scored by last-seen time. It only produces advisory signals and
// is the one component allowed to fail open: a Redis error degrades to
// "no signal" rather than blocking a login.
type ipReputation struct {
	rdb    redis.UniversalClient
	cfg    IPReputationConfig
	prefix string
}

func newIPReputation(rdb redis.UniversalClient, prefix string, cfg IPReputationConfig) *ipReputation {
	return &ipReputation{rdb: rdb, cfg: cfg, prefix: prefix}
}

func (r *ipReputation) key(tenantID, accountID string) string {
	return r.prefix + ":ip:" + tenantID + ":" + accountID
}

// Observe records ip for the account and reports whether it is new or
// part of a burst of distinct IPs. A first login ever is not flagged.
func (r *ipReputation) Observe(ctx context.Context, tenantID, accountID, ip string) (ipObservation, error) {
	if r == nil || !r.cfg.Enabled || ip == "" {
		return ipObservation{}, nil
	}
	key := r.key(tenantID, accountID)
	now := time.Now()

	_, err := r.rdb.ZScore(ctx, key, ip).Result()
	known := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return ipObservation{}, storeErr(err)
	}

	total, err := r.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return ipObservation{}, storeErr(err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(now.Unix()), Member: ip})
		// Keep only the most recently seen MaxTracked members.
		p.ZRemRangeByRank(ctx, key, 0, int64(-r.cfg.MaxTracked-1))
		return nil
	})
	if err != nil {
		return ipObservation{}, storeErr(err)
	}

	var obs ipObservation
	obs.NewIP = !known && total > 0

	since := strconv.FormatInt(now.Add(-r.cfg.VelocityWindow).Unix(), 10)
	recent, err := r.rdb.ZCount(ctx, key, since, "+inf").Result()
	if err != nil {
		return obs, storeErr(err)
	}
	obs.HighVelocity = recent > int64(r.cfg.VelocityThreshold)

	return obs, nil
}
