package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/order-notifier/internal/domain"
	"github.com/kursadbilgin/order-notifier/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr, _ := newTestRedis(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	_ = client.Close()

	if _, err := NewRedis(context.Background(), "://bad"); err == nil {
		t.Fatal("expected parse error for malformed url")
	}
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	first, err := NewLocker(rdb, "sent_records", time.Minute)
	if err != nil {
		t.Fatalf("NewLocker() error = %v", err)
	}
	second, err := NewLocker(rdb, "sent_records", time.Minute)
	if err != nil {
		t.Fatalf("NewLocker() error = %v", err)
	}

	if err := first.TryLock(context.Background()); err != nil {
		t.Fatalf("first TryLock() error = %v", err)
	}
	if ttl := mr.TTL("order_notifier:lock:sent_records"); ttl != time.Minute {
		t.Fatalf("lock ttl=%v, want 1m", ttl)
	}
	if err := second.TryLock(context.Background()); !errors.Is(err, domain.ErrRunLocked) {
		t.Fatalf("second TryLock() error = %v, want ErrRunLocked", err)
	}

	if err := first.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if mr.Exists("order_notifier:lock:sent_records") {
		t.Fatal("lock key should be deleted on unlock")
	}
	if err := second.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
}

func TestLockerUnlockKeepsForeignLock(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	expired, err := NewLocker(rdb, "sent_records", time.Second)
	if err != nil {
		t.Fatalf("NewLocker() error = %v", err)
	}
	if err := expired.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	mr.FastForward(2 * time.Second)

	next, err := NewLocker(rdb, "sent_records", time.Minute)
	if err != nil {
		t.Fatalf("NewLocker() error = %v", err)
	}
	if err := next.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() after expiry error = %v", err)
	}

	if err := expired.Unlock(context.Background()); !errors.Is(err, lock.ErrLockLost) {
		t.Fatalf("expired Unlock() error = %v, want ErrLockLost", err)
	}
	if !mr.Exists("order_notifier:lock:sent_records") {
		t.Fatal("an expired holder must not delete the new holder's lock")
	}
	if err := next.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
}

func TestLockerExtendsTTLWhileHeld(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	l, err := NewLocker(rdb, "sent_records", time.Minute)
	if err != nil {
		t.Fatalf("NewLocker() error = %v", err)
	}
	l.refreshEvery = 10 * time.Millisecond

	if err := l.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	// Three quarters of the TTL pass; the holder must push it back out
	// before the lock expires under a long run.
	mr.FastForward(45 * time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL("order_notifier:lock:sent_records") <= 30*time.Second {
		if time.Now().After(deadline) {
			t.Fatalf("lock ttl = %v, want it extended", mr.TTL("order_notifier:lock:sent_records"))
		}
		time.Sleep(5 * time.Millisecond)
	}

	mr.FastForward(45 * time.Second)
	if !mr.Exists("order_notifier:lock:sent_records") {
		t.Fatal("lock should outlive its original ttl while held")
	}

	if err := l.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if mr.Exists("order_notifier:lock:sent_records") {
		t.Fatal("lock key should be deleted on unlock")
	}
}

func TestLockerStopsExtendingForeignLock(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	l, err := NewLocker(rdb, "sent_records", time.Minute)
	if err != nil {
		t.Fatalf("NewLocker() error = %v", err)
	}
	l.refreshEvery = 10 * time.Millisecond

	if err := l.TryLock(context.Background()); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	if err := mr.Set("order_notifier:lock:sent_records", "other-holder"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mr.SetTTL("order_notifier:lock:sent_records", 5*time.Second)
	time.Sleep(50 * time.Millisecond)

	if ttl := mr.TTL("order_notifier:lock:sent_records"); ttl != 5*time.Second {
		t.Fatalf("foreign lock ttl = %v, want it untouched", ttl)
	}
	if err := l.Unlock(context.Background()); !errors.Is(err, lock.ErrLockLost) {
		t.Fatalf("Unlock() error = %v, want ErrLockLost", err)
	}
	if got, _ := mr.Get("order_notifier:lock:sent_records"); got != "other-holder" {
		t.Fatalf("lock value = %q, foreign lock must survive", got)
	}
}

func TestTokenCache(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	cache, err := NewTokenCache(rdb)
	if err != nil {
		t.Fatalf("NewTokenCache() error = %v", err)
	}

	if _, ok, err := cache.Get(context.Background(), "naver:token"); err != nil || ok {
		t.Fatalf("Get() on miss ok=%v err=%v", ok, err)
	}

	if err := cache.Set(context.Background(), "naver:token", "abc", time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	token, ok, err := cache.Get(context.Background(), "naver:token")
	if err != nil || !ok || token != "abc" {
		t.Fatalf("Get()=(%q,%v,%v), want (abc,true,nil)", token, ok, err)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := cache.Get(context.Background(), "naver:token"); ok {
		t.Fatal("token should expire with its ttl")
	}

	if err := cache.Set(context.Background(), "naver:other", "x", 0); err != nil {
		t.Fatalf("Set() with zero ttl error = %v", err)
	}
	if mr.Exists("order_notifier:naver:other") {
		t.Fatal("zero ttl tokens should not be cached")
	}
}

func TestTokenCacheDelete(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	cache, err := NewTokenCache(rdb)
	if err != nil {
		t.Fatalf("NewTokenCache() error = %v", err)
	}
	if err := cache.Set(context.Background(), "naver:token", "revoked", time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := cache.Delete(context.Background(), "naver:token"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mr.Exists("order_notifier:naver:token") {
		t.Fatal("token should be removed")
	}
	if err := cache.Delete(context.Background(), "naver:token"); err != nil {
		t.Fatalf("Delete() of a missing key error = %v", err)
	}
}

func TestSendLimiterAllow(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newSendLimiter(rdb, 2, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newSendLimiter() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(context.Background(), "aligo")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(context.Background(), "aligo")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected in the same second")
	}

	now = now.Add(time.Second)
	allowed, err = limiter.Allow(context.Background(), "aligo")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("next second should allow the call")
	}
}

func TestSendLimiterWait(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_200, 0)
	sleepCalls := 0
	limiter, err := newSendLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			sleepCalls++
			now = now.Add(time.Second)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newSendLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "aligo"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "aligo"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if sleepCalls != 1 {
		t.Fatalf("sleepCalls=%d, want 1", sleepCalls)
	}
}

func TestSendLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newSendLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newSendLimiter() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "aligo"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "aligo"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestConstructorsRequireClient(t *testing.T) {
	t.Parallel()

	if _, err := NewLocker(nil, "x", time.Minute); err == nil {
		t.Fatal("NewLocker(nil) should fail")
	}
	if _, err := NewTokenCache(nil); err == nil {
		t.Fatal("NewTokenCache(nil) should fail")
	}
	if _, err := NewSendLimiter(nil, 1); err == nil {
		t.Fatal("NewSendLimiter(nil) should fail")
	}
}
