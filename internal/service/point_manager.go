package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PointManager 积分扣减与回补
// 每次扣减按积分来源写入使用流水，回补只针对未取消的流水，重复回补无效果。
type PointManager struct {
	db   *gorm.DB
	repo repository.PointRepository
}

// NewPointManager 创建积分管理器
func NewPointManager(db *gorm.DB, repo repository.PointRepository) *PointManager {
	return &PointManager{db: db, repo: repo}
}

// Available 用户当前可用积分
func (m *PointManager) Available(userID uint, now time.Time) (models.Money, error) {
	return m.repo.SumAvailable(userID, now)
}

// DeductTx 在事务内按到期顺序扣减积分并记录流水
func (m *PointManager) DeductTx(tx *gorm.DB, userID, orderID uint, amount models.Money, now time.Time) error {
	if amount.Decimal.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	repo := m.repo.WithTx(tx)
	points, err := repo.ListAvailableForUpdate(userID, now)
	if err != nil {
		return err
	}
	remaining := amount
	for _, point := range points {
		if remaining.Decimal.LessThanOrEqual(decimal.Zero) {
			break
		}
		used := point.RemainingAmount.Min(remaining)
		if err := repo.UpdateRemaining(point.ID, point.RemainingAmount.Sub(used)); err != nil {
			return err
		}
		if err := repo.CreateUsage(&models.PointUsageHistory{
			PointID:    point.ID,
			OrderID:    orderID,
			UsedAmount: used,
		}); err != nil {
			return err
		}
		remaining = remaining.Sub(used)
	}
	if remaining.Decimal.GreaterThan(decimal.Zero) {
		return ErrPointInsufficient
	}
	return nil
}

// RestoreTx 在事务内回补订单使用的积分，返回回补总额
// 流水与积分来源不一致时停止并返回 ErrCompensationFailure，已处理的流水保持一致可提交。
func (m *PointManager) RestoreTx(tx *gorm.DB, orderID uint, now time.Time) (models.Money, error) {
	repo := m.repo.WithTx(tx)
	usages, err := repo.ListActiveUsageByOrder(orderID)
	if err != nil {
		return models.Money{}, err
	}
	restored := models.Money{}
	for _, usage := range usages {
		point, err := repo.GetByIDForUpdate(usage.PointID)
		if err != nil {
			return restored, err
		}
		if point == nil {
			return restored, fmt.Errorf("point %d: %w", usage.PointID, ErrPointUsageCorrupted)
		}
		next := point.RemainingAmount.Add(usage.UsedAmount)
		if next.Decimal.GreaterThan(point.Amount.Decimal) {
			return restored, fmt.Errorf("point %d: %w", usage.PointID, ErrPointUsageCorrupted)
		}
		affected, err := repo.CancelUsage(usage.ID, now)
		if err != nil {
			return restored, err
		}
		if affected == 0 {
			continue
		}
		if err := repo.UpdateRemaining(point.ID, next); err != nil {
			return restored, err
		}
		restored = restored.Add(usage.UsedAmount)
	}
	return restored, nil
}

// Deduct 在独立事务内扣减积分
func (m *PointManager) Deduct(ctx context.Context, userID, orderID uint, amount models.Money) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return m.DeductTx(tx, userID, orderID, amount, time.Now())
	})
}

// Restore 在独立事务内回补订单积分
func (m *PointManager) Restore(ctx context.Context, orderID uint) (models.Money, error) {
	var restored models.Money
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		restored, err = m.RestoreTx(tx, orderID, time.Now())
		return err
	})
	return restored, err
}
