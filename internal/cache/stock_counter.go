package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStockInsufficient 缓存库存不足
	ErrStockInsufficient = errors.New("cached stock insufficient")
	// ErrStockNotLoaded 缓存库存未初始化
	ErrStockNotLoaded = errors.New("cached stock not loaded")
)

// 返回扣减后的库存；-1 库存不足；-2 key 不存在
var decreaseStockScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	return -2
end
local quantity = tonumber(ARGV[1])
if tonumber(current) < quantity then
	return -1
end
return redis.call("DECRBY", KEYS[1], quantity)
`)

// key 不存在时不回补，等待下次按数据库重新加载
var increaseStockScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -2
end
return redis.call("INCRBY", KEYS[1], ARGV[1])
`)

// StockCounter 商品库存缓存计数器
type StockCounter struct {
	store *Store
	ttl   time.Duration
}

// NewStockCounter 创建库存计数器
func NewStockCounter(store *Store, ttl time.Duration) *StockCounter {
	return &StockCounter{store: store, ttl: ttl}
}

// Decrease 扣减库存，返回扣减后余量
func (c *StockCounter) Decrease(ctx context.Context, productID uint, quantity int) (int64, error) {
	left, err := decreaseStockScript.Run(ctx, c.store.Client(), []string{c.store.Key(ProductStockKey(productID))}, quantity).Int64()
	if err != nil {
		return 0, err
	}
	switch left {
	case -1:
		return 0, ErrStockInsufficient
	case -2:
		return 0, ErrStockNotLoaded
	}
	return left, nil
}

// Increase 回补库存，key 不存在时返回 ErrStockNotLoaded
func (c *StockCounter) Increase(ctx context.Context, productID uint, quantity int) (int64, error) {
	after, err := increaseStockScript.Run(ctx, c.store.Client(), []string{c.store.Key(ProductStockKey(productID))}, quantity).Int64()
	if err != nil {
		return 0, err
	}
	if after == -2 {
		return 0, ErrStockNotLoaded
	}
	return after, nil
}

// Load 仅在 key 不存在时写入库存，返回是否写入
func (c *StockCounter) Load(ctx context.Context, productID uint, stock int) (bool, error) {
	return c.store.Client().SetNX(ctx, c.store.Key(ProductStockKey(productID)), stock, c.ttl).Result()
}

// Set 覆盖写入库存
func (c *StockCounter) Set(ctx context.Context, productID uint, stock int) error {
	return c.store.Client().Set(ctx, c.store.Key(ProductStockKey(productID)), stock, c.ttl).Err()
}

// Get 读取库存，未加载时返回 ErrStockNotLoaded
func (c *StockCounter) Get(ctx context.Context, productID uint) (int64, error) {
	v, err := c.store.Client().Get(ctx, c.store.Key(ProductStockKey(productID))).Int64()
	if err == redis.Nil {
		return 0, ErrStockNotLoaded
	}
	return v, err
}
