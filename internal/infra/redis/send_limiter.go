package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/order-notifier/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	sendWindowSeconds = 1
	sendBackoffStep   = 10 * time.Millisecond
	sendBackoffMax    = 100 * time.Millisecond
)

// sendSlotScript counts sends in the current one-second window.
var sendSlotScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if used > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*SendLimiter)(nil)

// SendLimiter caps gateway sends per second across every process sharing
// the redis instance, so overlapping hosts stay under the gateway quota.
type SendLimiter struct {
	client   *goredis.Client
	perSec   int64
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	slotFunc *goredis.Script
}

func NewSendLimiter(client *goredis.Client, perSec int) (*SendLimiter, error) {
	return newSendLimiter(client, int64(perSec), time.Now, sleepWithContext)
}

func newSendLimiter(
	client *goredis.Client,
	perSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SendLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if perSec <= 0 {
		return nil, fmt.Errorf("send rate must be positive, got %d", perSec)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &SendLimiter{
		client:   client,
		perSec:   perSec,
		now:      nowFn,
		sleep:    sleepFn,
		slotFunc: sendSlotScript,
	}, nil
}

func (l *SendLimiter) Allow(ctx context.Context, key string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	windowKey := fmt.Sprintf("%ssendrate:%s:%d", keyPrefix, normalized, l.now().UTC().Unix())
	granted, err := l.slotFunc.Run(ctx, l.client, []string{windowKey}, l.perSec, sendWindowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate send rate: %w", err)
	}
	return granted == 1, nil
}

func (l *SendLimiter) Wait(ctx context.Context, key string) error {
	backoff := sendBackoffStep
	for {
		allowed, err := l.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff+sendBackoffStep, sendBackoffMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
