package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "test", 5*time.Millisecond), mr
}

func TestWithLockSerializesSameKey(t *testing.T) {
	locker, _ := setupLocker(t)
	opts := Options{Wait: 5 * time.Second, Lease: 5 * time.Second}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), locker, ProductStockKey(1), opts, func(ctx context.Context) error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
			if err != nil {
				t.Errorf("with lock failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if counter != 20 {
		t.Fatalf("lost update under lock, counter=%d", counter)
	}
}

func TestAcquireTimesOutAndDifferentKeysDoNotBlock(t *testing.T) {
	locker, _ := setupLocker(t)
	ctx := context.Background()
	held, err := locker.Acquire(ctx, "a", Options{Lease: time.Minute})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer held.Release()

	start := time.Now()
	_, err = locker.Acquire(ctx, "a", Options{Wait: 30 * time.Millisecond, Lease: time.Minute})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("acquire returned before wait elapsed")
	}

	other, err := locker.Acquire(ctx, "b", Options{Wait: 0, Lease: time.Minute})
	if err != nil {
		t.Fatalf("different key should not block: %v", err)
	}
	_ = other.Release()
}

func TestLeaseExpiresForCrashedHolder(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()
	if _, err := locker.Acquire(ctx, "crash", Options{Lease: 2 * time.Second}); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	mr.FastForward(3 * time.Second)

	guard, err := locker.Acquire(ctx, "crash", Options{Wait: 0, Lease: time.Second})
	if err != nil {
		t.Fatalf("lease should have expired: %v", err)
	}
	_ = guard.Release()
}

func TestReleaseDoesNotDeleteForeignToken(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()
	first, err := locker.Acquire(ctx, "k", Options{Lease: time.Second})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	mr.FastForward(2 * time.Second)
	second, err := locker.Acquire(ctx, "k", Options{Lease: time.Minute})
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("stale release failed: %v", err)
	}
	if !mr.Exists("test:lock:k") {
		t.Fatalf("stale holder must not release the new holder's lock")
	}
	_ = second.Release()
	if mr.Exists("test:lock:k") {
		t.Fatalf("lock should be released")
	}
}

func TestAcquireIsReentrantWithinGuardContext(t *testing.T) {
	locker, _ := setupLocker(t)
	err := WithLock(context.Background(), locker, "r", Options{Lease: time.Minute}, func(ctx context.Context) error {
		inner, err := locker.Acquire(ctx, "r", Options{Wait: 0})
		if err != nil {
			return err
		}
		return inner.Release()
	})
	if err != nil {
		t.Fatalf("reentrant acquire failed: %v", err)
	}
	// 外层释放后可再次获取
	guard, err := locker.Acquire(context.Background(), "r", Options{Wait: 0, Lease: time.Second})
	if err != nil {
		t.Fatalf("lock should be free after scope exit: %v", err)
	}
	_ = guard.Release()
}

func TestWithLocksReleasesOnPartialFailure(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()
	blocker, err := locker.Acquire(ctx, "y", Options{Lease: time.Minute})
	if err != nil {
		t.Fatalf("acquire blocker failed: %v", err)
	}
	defer blocker.Release()

	called := false
	err = WithLocks(ctx, locker, []string{"x", "y", "z"}, Options{Wait: 10 * time.Millisecond, Lease: time.Minute}, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) || called {
		t.Fatalf("expected timeout without running fn, err=%v called=%v", err, called)
	}
	if mr.Exists("test:lock:x") {
		t.Fatalf("already acquired lock x should have been released")
	}
}
