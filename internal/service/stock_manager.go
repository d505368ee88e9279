package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dujiao-next/flashsale/internal/cache"
	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/lock"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/queue"
	"github.com/dujiao-next/flashsale/internal/repository"

	"gorm.io/gorm"
)

// StockManager 商品库存管理（缓存预占 + 数据库扣减/回补）
type StockManager struct {
	db          *gorm.DB
	productRepo repository.ProductRepository
	counter     *cache.StockCounter
	locker      lock.Locker
	timeouts    config.LockTimeouts
}

// NewStockManager 创建库存管理器
func NewStockManager(db *gorm.DB, productRepo repository.ProductRepository, counter *cache.StockCounter, locker lock.Locker, timeouts config.LockTimeouts) *StockManager {
	return &StockManager{
		db:          db,
		productRepo: productRepo,
		counter:     counter,
		locker:      locker,
		timeouts:    timeouts,
	}
}

// Reserve 在缓存层按商品 ID 升序预占库存，全部成功或全部回滚
func (m *StockManager) Reserve(ctx context.Context, lines []queue.Reservation) error {
	sorted := normalizeReservations(lines)
	done := make([]queue.Reservation, 0, len(sorted))
	for _, line := range sorted {
		if err := m.reserveOne(ctx, line); err != nil {
			m.Release(ctx, done)
			return err
		}
		done = append(done, line)
	}
	return nil
}

func (m *StockManager) reserveOne(ctx context.Context, line queue.Reservation) error {
	if line.ProductID == 0 || line.Quantity <= 0 {
		return ErrInvalidOrderItem
	}
	_, err := m.counter.Decrease(ctx, line.ProductID, line.Quantity)
	if errors.Is(err, cache.ErrStockNotLoaded) {
		if err := m.warm(ctx, line.ProductID); err != nil {
			return err
		}
		_, err = m.counter.Decrease(ctx, line.ProductID, line.Quantity)
	}
	if errors.Is(err, cache.ErrStockInsufficient) {
		return ErrStockInsufficient
	}
	if errors.Is(err, cache.ErrStockNotLoaded) {
		return ErrProductNotFound
	}
	return err
}

// warm 首次访问时以数据库库存初始化缓存计数（已存在则不覆盖）
func (m *StockManager) warm(ctx context.Context, productID uint) error {
	product, err := m.productRepo.GetByID(productID)
	if err != nil {
		return err
	}
	if product == nil {
		return ErrProductNotFound
	}
	_, err = m.counter.Load(ctx, productID, product.Stock)
	return err
}

// Release 回补缓存预占，单个商品失败只记录日志
func (m *StockManager) Release(ctx context.Context, lines []queue.Reservation) []error {
	var errs []error
	for _, line := range lines {
		_, err := m.counter.Increase(ctx, line.ProductID, line.Quantity)
		if errors.Is(err, cache.ErrStockNotLoaded) {
			// 计数已过期，下次访问会按数据库库存重新加载
			continue
		}
		if err != nil {
			logger.Warnw("stock_cache_release_failed",
				"product_id", line.ProductID,
				"quantity", line.Quantity,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("release product %d: %w", line.ProductID, err))
		}
	}
	return errs
}

// WithLocks 按商品 ID 升序获取库存锁后执行 fn
// fn 内才允许开启数据库事务，不得在事务内再申请锁。
func (m *StockManager) WithLocks(ctx context.Context, lines []queue.Reservation, fn func(ctx context.Context) error) error {
	return lock.WithLocks(ctx, m.locker, productLockKeys(lines), lockOptions(m.timeouts), fn)
}

// DecreaseTx 在事务内扣减库存并累加销量，任一商品不足返回 ErrStockInsufficient
func (m *StockManager) DecreaseTx(tx *gorm.DB, lines []queue.Reservation) error {
	repo := m.productRepo.WithTx(tx)
	for _, line := range normalizeReservations(lines) {
		affected, err := repo.DecreaseStock(line.ProductID, line.Quantity)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("product %d: %w", line.ProductID, ErrStockInsufficient)
		}
	}
	return nil
}

// IncreaseTx 在事务内回补库存并扣减销量
func (m *StockManager) IncreaseTx(tx *gorm.DB, lines []queue.Reservation) error {
	repo := m.productRepo.WithTx(tx)
	for _, line := range normalizeReservations(lines) {
		affected, err := repo.IncreaseStock(line.ProductID, line.Quantity)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("product %d: %w: sold count below restore quantity", line.ProductID, ErrCompensationFailure)
		}
	}
	return nil
}

// Decrease 加锁后在独立事务内扣减数据库库存
func (m *StockManager) Decrease(ctx context.Context, lines []queue.Reservation) error {
	return m.WithLocks(ctx, lines, func(ctx context.Context) error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return m.DecreaseTx(tx, lines)
		})
	})
}

// Increase 加锁后在独立事务内回补数据库库存
func (m *StockManager) Increase(ctx context.Context, lines []queue.Reservation) error {
	return m.WithLocks(ctx, lines, func(ctx context.Context) error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return m.IncreaseTx(tx, lines)
		})
	})
}

// CachedStock 读取缓存库存
func (m *StockManager) CachedStock(ctx context.Context, productID uint) (int64, error) {
	return m.counter.Get(ctx, productID)
}
