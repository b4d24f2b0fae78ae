package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/order-notifier/internal/domain"
	"github.com/kursadbilgin/order-notifier/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 15 * time.Minute

// extendScript pushes the expiry out only while the lock still carries our token.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lock only when it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.Locker = (*Locker)(nil)

// Locker is a run lock shared by every host pointing at the same redis.
// The TTL bounds how long a crashed holder can block later runs; a live
// holder extends it every ttl/3 until Unlock.
type Locker struct {
	client       *goredis.Client
	key          string
	ttl          time.Duration
	refreshEvery time.Duration
	newID        func() string

	mu         sync.Mutex
	token      string
	stopExtend context.CancelFunc
	extendDone chan struct{}
}

func NewLocker(client *goredis.Client, name string, ttl time.Duration) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: lock name is required", domain.ErrValidation)
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	refreshEvery := ttl / 3
	if refreshEvery <= 0 {
		refreshEvery = ttl
	}

	return &Locker{
		client:       client,
		key:          keyPrefix + "lock:" + name,
		ttl:          ttl,
		refreshEvery: refreshEvery,
		newID:        uuid.NewString,
	}, nil
}

func (l *Locker) TryLock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token != "" {
		return fmt.Errorf("lock %s is already held by this process", l.key)
	}

	token := l.newID()
	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire redis lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", domain.ErrRunLocked, l.key)
	}

	l.token = token
	extendCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	l.stopExtend = stop
	l.extendDone = make(chan struct{})
	go l.keepAlive(extendCtx, token, l.extendDone)
	return nil
}

// keepAlive stops on its own once the key no longer carries token; a failed
// call is retried on the next tick.
func (l *Locker) keepAlive(ctx context.Context, token string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			if err == nil && extended == 0 {
				return
			}
		}
	}
}

func (l *Locker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	l.stopExtend()
	<-l.extendDone

	released, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release redis lock: %w", err)
	}
	if released == 0 {
		return fmt.Errorf("%w: %s", lock.ErrLockLost, l.key)
	}
	return nil
}
