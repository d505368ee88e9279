package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 分配脚本返回的哨兵值
const (
	AllocDuplicate        int64 = -1
	AllocCapacityExceeded int64 = -2
)

var (
	// ErrAllocDuplicate 同一领取人重复领取
	ErrAllocDuplicate = errors.New("claimant already allocated")
	// ErrAllocCapacityExceeded 已达发放上限
	ErrAllocCapacityExceeded = errors.New("allocation capacity exceeded")
)

// 同分时 ZRANK 按成员字典序排序，名次可能前移，因此准入以集合基数为准，名次仅作参考。
var issueCouponScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
	return -1
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
local rank = redis.call("ZRANK", KEYS[1], ARGV[1])
if redis.call("ZCARD", KEYS[1]) <= tonumber(ARGV[3]) then
	if redis.call("TTL", KEYS[1]) == -1 then
		redis.call("EXPIRE", KEYS[1], ARGV[4])
	end
	return rank
end
redis.call("ZREM", KEYS[1], ARGV[1])
return -2
`)

// CouponAllocator 优惠券先到先得分配器
type CouponAllocator struct {
	store *Store
	ttl   time.Duration
}

// NewCouponAllocator 创建分配器
func NewCouponAllocator(store *Store, ttl time.Duration) *CouponAllocator {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CouponAllocator{store: store, ttl: ttl}
}

// Issue 原子领取，成功返回 0 起的名次
func (a *CouponAllocator) Issue(ctx context.Context, couponID, userID uint, at time.Time, capacity int) (int64, error) {
	if capacity <= 0 {
		return 0, ErrAllocCapacityExceeded
	}
	ttlSeconds := int64(a.ttl / time.Second)
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	rank, err := issueCouponScript.Run(ctx, a.store.Client(),
		[]string{a.store.Key(CouponIssueKey(couponID))},
		claimant(userID), at.UnixMicro(), capacity, ttlSeconds,
	).Int64()
	if err != nil {
		return 0, err
	}
	switch rank {
	case AllocDuplicate:
		return 0, ErrAllocDuplicate
	case AllocCapacityExceeded:
		return 0, ErrAllocCapacityExceeded
	}
	return rank, nil
}

// Cancel 移除领取人（补偿使用），返回是否确实移除
func (a *CouponAllocator) Cancel(ctx context.Context, couponID, userID uint) (bool, error) {
	removed, err := a.store.Client().ZRem(ctx, a.store.Key(CouponIssueKey(couponID)), claimant(userID)).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// Claimed 判断用户是否在分配集合中
func (a *CouponAllocator) Claimed(ctx context.Context, couponID, userID uint) (bool, error) {
	_, err := a.store.Client().ZScore(ctx, a.store.Key(CouponIssueKey(couponID)), claimant(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Count 当前已分配人数
func (a *CouponAllocator) Count(ctx context.Context, couponID uint) (int64, error) {
	return a.store.Client().ZCard(ctx, a.store.Key(CouponIssueKey(couponID))).Result()
}

func claimant(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}
