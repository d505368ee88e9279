// Package lock 提供基于 Redis 的按 key 分布式锁。
//
// 锁通过 SET NX PX 获取，持有者以随机 token 标识，释放时只删除自己的 token，
// 租约到期后自动失效，避免持有者崩溃导致永久死锁。
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout 在等待时间内未能获取锁
var ErrLockTimeout = errors.New("lock wait timeout")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options 单次加锁参数
type Options struct {
	Wait  time.Duration
	Lease time.Duration
}

// Locker 分布式锁接口
type Locker interface {
	Acquire(ctx context.Context, key string, opts Options) (*Guard, error)
}

// Guard 已持有的锁，Release 可重复调用
type Guard struct {
	key      string
	token    string
	ctx      context.Context
	release  func(context.Context) error
	once     sync.Once
	released error
}

// Key 锁 key
func (g *Guard) Key() string {
	return g.key
}

// Context 返回标记了该锁已持有的上下文，在其中再次获取同一 key 时直接重入
func (g *Guard) Context() context.Context {
	return g.ctx
}

// Release 释放锁
func (g *Guard) Release() error {
	g.once.Do(func() {
		if g.release != nil {
			// 调用方上下文可能已取消，释放使用独立的短超时
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			g.released = g.release(ctx)
		}
	})
	return g.released
}

// RedisLocker Redis 实现
type RedisLocker struct {
	client        redis.UniversalClient
	prefix        string
	retryInterval time.Duration
}

// NewRedisLocker 创建 Redis 分布式锁
func NewRedisLocker(client redis.UniversalClient, prefix string, retryInterval time.Duration) *RedisLocker {
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &RedisLocker{client: client, prefix: prefix, retryInterval: retryInterval}
}

// Acquire 在 opts.Wait 内轮询获取锁，超时返回 ErrLockTimeout
func (l *RedisLocker) Acquire(ctx context.Context, key string, opts Options) (*Guard, error) {
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if heldIn(ctx, key) {
		return &Guard{key: key, ctx: ctx}, nil
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Second
	}

	redisKey := l.redisKey(key)
	token := uuid.NewString()
	deadline := time.Now().Add(opts.Wait)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, opts.Lease).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &Guard{
				key:   key,
				token: token,
				ctx:   withHeld(ctx, key),
				release: func(rctx context.Context) error {
					return releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err()
				},
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		wait := l.retryInterval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) redisKey(key string) string {
	if l.prefix == "" {
		return "lock:" + key
	}
	return l.prefix + ":lock:" + key
}

// WithLock 在锁保护下执行 fn，fn 结束（含 panic）后释放
func WithLock(ctx context.Context, locker Locker, key string, opts Options, fn func(ctx context.Context) error) error {
	guard, err := locker.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn(guard.Context())
}

// WithLocks 按给定顺序依次加锁后执行 fn，任一失败则释放已获取的锁
// 调用方负责保证 keys 的全局顺序一致，以避免循环等待。
func WithLocks(ctx context.Context, locker Locker, keys []string, opts Options, fn func(ctx context.Context) error) error {
	guards := make([]*Guard, 0, len(keys))
	defer func() {
		for i := len(guards) - 1; i >= 0; i-- {
			_ = guards[i].Release()
		}
	}()
	current := ctx
	for _, key := range keys {
		guard, err := locker.Acquire(current, key, opts)
		if err != nil {
			return err
		}
		guards = append(guards, guard)
		current = guard.Context()
	}
	return fn(current)
}

type heldKeysCtxKey struct{}

func heldIn(ctx context.Context, key string) bool {
	held, _ := ctx.Value(heldKeysCtxKey{}).(map[string]struct{})
	_, ok := held[key]
	return ok
}

func withHeld(ctx context.Context, key string) context.Context {
	prev, _ := ctx.Value(heldKeysCtxKey{}).(map[string]struct{})
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldKeysCtxKey{}, next)
}
