package service

import (
	"context"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/lock"
	"github.com/dujiao-next/flashsale/internal/repository"

	"gorm.io/gorm"
)

// CouponUsageManager 用户优惠券使用次数管理
type CouponUsageManager struct {
	db       *gorm.DB
	repo     repository.UserCouponRepository
	locker   lock.Locker
	timeouts config.LockTimeouts
}

// NewCouponUsageManager 创建用户优惠券使用次数管理器
func NewCouponUsageManager(db *gorm.DB, repo repository.UserCouponRepository, locker lock.Locker, timeouts config.LockTimeouts) *CouponUsageManager {
	return &CouponUsageManager{db: db, repo: repo, locker: locker, timeouts: timeouts}
}

// WithLock 获取 {userId}-{couponId} 锁后执行 fn
func (m *CouponUsageManager) WithLock(ctx context.Context, userID, couponID uint, fn func(ctx context.Context) error) error {
	return lock.WithLock(ctx, m.locker, lock.UserCouponKey(userID, couponID), lockOptions(m.timeouts), fn)
}

// IncrementTx 在事务内使用次数加一，不超过 limit
func (m *CouponUsageManager) IncrementTx(tx *gorm.DB, userID, couponID uint, limit int) error {
	repo := m.repo.WithTx(tx)
	row, err := repo.GetByUserAndCouponForUpdate(userID, couponID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrUserCouponNotFound
	}
	if limit <= 0 {
		limit = 1
	}
	affected, err := repo.IncrementUsage(row.ID, limit)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCouponUsageLimit
	}
	return nil
}

// DecrementTx 在事务内使用次数减一，返回是否实际回补
func (m *CouponUsageManager) DecrementTx(tx *gorm.DB, userID, couponID uint) (bool, error) {
	repo := m.repo.WithTx(tx)
	row, err := repo.GetByUserAndCouponForUpdate(userID, couponID)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, ErrUserCouponNotFound
	}
	affected, err := repo.DecrementUsage(row.ID)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Increment 加锁并在独立事务内使用次数加一
func (m *CouponUsageManager) Increment(ctx context.Context, userID, couponID uint, limit int) error {
	return m.WithLock(ctx, userID, couponID, func(ctx context.Context) error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return m.IncrementTx(tx, userID, couponID, limit)
		})
	})
}

// Decrement 加锁并在独立事务内使用次数减一
func (m *CouponUsageManager) Decrement(ctx context.Context, userID, couponID uint) (bool, error) {
	var restored bool
	err := m.WithLock(ctx, userID, couponID, func(ctx context.Context) error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			restored, err = m.DecrementTx(tx, userID, couponID)
			return err
		})
	})
	return restored, err
}
