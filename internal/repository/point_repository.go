package repository

import (
	"time"

	"github.com/dujiao-next/flashsale/internal/models"

	"gorm.io/gorm"
)

// PointRepository 积分数据访问接口
type PointRepository interface {
	Create(point *models.Point) error
	GetByID(id uint) (*models.Point, error)
	GetByIDForUpdate(id uint) (*models.Point, error)
	ListAvailableForUpdate(userID uint, now time.Time) ([]models.Point, error)
	SumAvailable(userID uint, now time.Time) (models.Money, error)
	UpdateRemaining(id uint, remaining models.Money) error
	CreateUsage(usage *models.PointUsageHistory) error
	ListActiveUsageByOrder(orderID uint) ([]models.PointUsageHistory, error)
	CancelUsage(id uint, at time.Time) (int64, error)
	WithTx(tx *gorm.DB) PointRepository
}

// GormPointRepository GORM 实现
type GormPointRepository struct {
	db *gorm.DB
}

// NewPointRepository 创建积分仓库
func NewPointRepository(db *gorm.DB) *GormPointRepository {
	return &GormPointRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPointRepository) WithTx(tx *gorm.DB) PointRepository {
	if tx == nil {
		return r
	}
	return &GormPointRepository{db: tx}
}

// Create 创建积分来源
func (r *GormPointRepository) Create(point *models.Point) error {
	return r.db.Create(point).Error
}

// GetByID 根据 ID 获取积分来源
func (r *GormPointRepository) GetByID(id uint) (*models.Point, error) {
	var point models.Point
	return notFoundAsNil(&point, r.db.First(&point, id).Error)
}

// GetByIDForUpdate 行锁读取积分来源
func (r *GormPointRepository) GetByIDForUpdate(id uint) (*models.Point, error) {
	var point models.Point
	return notFoundAsNil(&point, forUpdate(r.db).First(&point, id).Error)
}

// ListAvailableForUpdate 行锁读取用户可用积分，先到期的先用
func (r *GormPointRepository) ListAvailableForUpdate(userID uint, now time.Time) ([]models.Point, error) {
	var points []models.Point
	err := forUpdate(r.db).
		Where("user_id = ? AND remaining_amount > 0", userID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END, expires_at asc, id asc").
		Find(&points).Error
	if err != nil {
		return nil, err
	}
	return points, nil
}

// SumAvailable 汇总用户可用积分
func (r *GormPointRepository) SumAvailable(userID uint, now time.Time) (models.Money, error) {
	var points []models.Point
	err := r.db.Select("remaining_amount").
		Where("user_id = ? AND remaining_amount > 0", userID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Find(&points).Error
	if err != nil {
		return models.Money{}, err
	}
	total := models.Money{}
	for _, p := range points {
		total = total.Add(p.RemainingAmount)
	}
	return total, nil
}

// UpdateRemaining 更新剩余额度
func (r *GormPointRepository) UpdateRemaining(id uint, remaining models.Money) error {
	return r.db.Model(&models.Point{}).Where("id = ?", id).Update("remaining_amount", remaining).Error
}

// CreateUsage 写入使用流水
func (r *GormPointRepository) CreateUsage(usage *models.PointUsageHistory) error {
	return r.db.Create(usage).Error
}

// ListActiveUsageByOrder 获取订单未回补的使用流水
func (r *GormPointRepository) ListActiveUsageByOrder(orderID uint) ([]models.PointUsageHistory, error) {
	var rows []models.PointUsageHistory
	if err := forUpdate(r.db).Where("order_id = ? AND canceled = ?", orderID, false).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CancelUsage 标记流水已回补，已回补的流水影响行数为 0
func (r *GormPointRepository) CancelUsage(id uint, at time.Time) (int64, error) {
	result := r.db.Model(&models.PointUsageHistory{}).
		Where("id = ? AND canceled = ?", id, false).
		Updates(map[string]interface{}{
			"canceled":    true,
			"canceled_at": at,
		})
	return result.RowsAffected, result.Error
}
