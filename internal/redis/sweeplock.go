package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SweepLockKey is the lease key shared by every gateway replica.
const SweepLockKey = "beacon:sweep:lock"

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock is a SET NX lease that lets exactly one replica run the reminder
// sweep per period. The lease is not released after a successful run: it
// expires with the period so the other replicas skip their ticks.
type SweepLock struct {
	client *Client
	key    string
	owner  string
	logger *zap.Logger
}

// NewSweepLock creates a lease holder with a unique owner token.
func NewSweepLock(client *Client, logger *zap.Logger) *SweepLock {
	return &SweepLock{
		client: client,
		key:    SweepLockKey,
		owner:  uuid.NewString(),
		logger: logger,
	}
}

// Owner returns this holder's token.
func (l *SweepLock) Owner() string {
	return l.owner
}

// Acquire takes or renews the lease for ttl. It returns false when another
// holder owns it.
func (l *SweepLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sweep lock: %w", err)
	}

	if ok {
		return true, nil
	}

	holder, err := l.client.rdb.Get(ctx, l.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("read sweep lock holder: %w", err)
	}

	// our own lease from the previous tick can outlive the tick by a few
	// milliseconds; renew it instead of skipping
	if holder == l.owner {
		if err := l.client.rdb.Expire(ctx, l.key, ttl).Err(); err != nil {
			return false, fmt.Errorf("renew sweep lock: %w", err)
		}
		return true, nil
	}

	l.logger.Debug("sweep lock held elsewhere", zap.String("holder", holder))
	return false, nil
}

// Release gives the lease back early, e.g. after a failed run so that the
// next tick on any replica can retry.
func (l *SweepLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release sweep lock: %w", err)
	}
	return nil
}
